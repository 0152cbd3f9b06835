package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// entryCorpus holds well-formed entries for every built-in dialect.
var entryCorpus = map[string][]string{
	"fx_gold_killer": {
		"PAIR BUY NOW, PRICE:100, TP1 102 TP2 104 TP3 106 TP4 108 TP5 110, SL:98",
		"📣XAUUSD BUY NOW 📣\n🔊 PRICE : 3775\n✅ TP1 3777 (+20 PIPS)\n✅ TP2 3779 (+40 PIPS)\n❌ SL: 3771 (40 PIPS)",
	},
	"wolf_forex": {
		"XAUUSD 📈 BUY 3105.50\n💰TP1 3107.50\n💰TP2 3110.50\n🚫SL 3097.00",
	},
	"wolf_crypto": {
		"AAVE/USDT\n🔹Enter below:167.04(with a minimum value of 166.90)\n📉SELL\n💰TP1 166.71\n💰TP2 166.21\n🚫SL 168.01\n〽️Leverage 20x",
	},
	"vip_crypto": {
		"🟢 Long\nName: APE/USDT\nMargin mode: Cross (75X)\n\n↪️ Entry price(USDT):\n0.3798\n\nTargets(USDT):\n1) 0.3836\n2) 0.3874",
		"🔴 Short Name: ETH/USDT Margin mode: Isolated (20X) ↪️ Entry price(USDT): 3,250.5 Targets(USDT): 1) 3200 2) 3150",
	},
	"lord_forex": {
		"🔔 NEW ORDER - NAS100 - Sell 🔔\nEntry: 183.542\nTP @ 182.900\nSL @ 184.250\nID: 987654321",
	},
	"russian_forex": {
		"BuyStop #GBPUSD (D1) ПГиП\nPrice: 1.36099\nSL: 1.34239\nTP: 1.39459\n(FX)",
	},
	"sanchir_forex": {
		"pair: XAUUSDm\nside: Buy_Limit\nprice: 3300\nsl: 3290\ntp: 3320",
		"pair: EURUSD\nside: Sell\nprice: 1.0850",
	},
}

func TestEveryDialectHasCorpus(t *testing.T) {
	for _, name := range Names() {
		assert.NotEmpty(t, entryCorpus[name], "no corpus for %s", name)
	}
}

func TestCrossDialectIsolation(t *testing.T) {
	for owner, texts := range entryCorpus {
		for _, name := range Names() {
			d := mustDialect(t, name)
			for _, text := range texts {
				_, ok := d.NewSignal(text)
				if name == owner {
					assert.True(t, ok, "%s must parse its own entry %q", name, text)
				} else {
					assert.False(t, ok, "%s must not parse %s entry %q", name, owner, text)
				}
			}
		}
	}
}
