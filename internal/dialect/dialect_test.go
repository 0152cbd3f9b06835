package dialect

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-relay/internal/signal"
)

func mustDialect(t *testing.T, name string) *Dialect {
	t.Helper()
	d, ok := Lookup(name)
	require.True(t, ok, "dialect %s not registered", name)
	return d
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func assertNullDecimal(t *testing.T, want string, got decimal.NullDecimal) {
	t.Helper()
	if want == "" {
		assert.False(t, got.Valid, "expected no value, got %s", got.Decimal)
		return
	}
	require.True(t, got.Valid, "expected %s, got none", want)
	assertDecimal(t, want, got.Decimal)
}

func assertTargets(t *testing.T, want []string, got []decimal.Decimal) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assertDecimal(t, want[i], got[i])
	}
}

type entryCase struct {
	text     string
	pair     string
	side     signal.Side
	kind     signal.OrderKind
	entry    string
	sl       string
	tp       []string
	leverage int
	ref      string
}

func runEntryCases(t *testing.T, d *Dialect, cases map[string]entryCase) {
	t.Helper()
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := d.NewSignal(tc.text)
			require.True(t, ok, "expected entry for %q", tc.text)
			assert.Equal(t, tc.pair, got.Pair)
			assert.Equal(t, tc.side, got.Side)
			assert.Equal(t, tc.kind, got.Kind)
			assertNullDecimal(t, tc.entry, got.EntryPrice)
			assertNullDecimal(t, tc.sl, got.StopLoss)
			assertTargets(t, tc.tp, got.TakeProfit)
			assert.Equal(t, tc.leverage, got.Leverage)
			assert.Equal(t, tc.ref, got.Ref)
		})
	}
}

type outcomeCase struct {
	text   string
	action signal.Action
	level  int
	pips   *int
	profit string
	exit   string
	ref    string
}

func runOutcomeCases(t *testing.T, d *Dialect, cases map[string]outcomeCase) {
	t.Helper()
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			action, got, ok := d.Outcome(tc.text)
			if tc.action == signal.ActionOther {
				assert.False(t, ok, "expected no outcome, got %s", action)
				return
			}
			require.True(t, ok, "expected %s for %q", tc.action, tc.text)
			assert.Equal(t, tc.action, action)
			assert.Equal(t, tc.level, got.TPLevel)
			if tc.pips == nil {
				assert.Nil(t, got.Pips)
			} else {
				require.NotNil(t, got.Pips)
				assert.Equal(t, *tc.pips, *got.Pips)
			}
			assertNullDecimal(t, tc.profit, got.ProfitPercent)
			assertNullDecimal(t, tc.exit, got.ExitPrice)
			assert.Equal(t, tc.ref, got.Ref)
		})
	}
}

func pips(v int) *int { return &v }

func TestFxGoldKillerEntry(t *testing.T) {
	d := mustDialect(t, "fx_gold_killer")
	runEntryCases(t, d, map[string]entryCase{
		"scenario a": {
			text:     "PAIR BUY NOW, PRICE:100, TP1 102 TP2 104 TP3 106 TP4 108 TP5 110, SL:98",
			pair:     "PAIR",
			side:     signal.SideBuy,
			kind:     signal.KindMarket,
			entry:    "100",
			sl:       "98",
			tp:       []string{"102", "104", "106", "108", "110"},
			leverage: 1,
		},
		"channel format": {
			text:     "📣XAUUSD BUY NOW 📣\n🔊 PRICE : 3775\n✅ TP1 3777 (+20 PIPS)\n✅ TP2 3779 (+40 PIPS)\n✅ TP3 3781 (+60 PIPS)\n❌ SL: 3771 (40 PIPS)",
			pair:     "XAUUSD",
			side:     signal.SideBuy,
			kind:     signal.KindMarket,
			entry:    "3775",
			sl:       "3771",
			tp:       []string{"3777", "3779", "3781"},
			leverage: 1,
		},
		"limit with separators": {
			text:     "XAUUSD SELL LIMIT 📣 PRICE: 3,790.5 TP1 3788 TP2 3786 SL 3795",
			pair:     "XAUUSD",
			side:     signal.SideSell,
			kind:     signal.KindLimit,
			entry:    "3790.5",
			sl:       "3795",
			tp:       []string{"3788", "3786"},
			leverage: 1,
		},
		"labels with colons": {
			text:     "XAUUSD BUY NOW PRICE: 3775 TP1: 3777 TP2:3779 SL: 3771",
			pair:     "XAUUSD",
			side:     signal.SideBuy,
			kind:     signal.KindMarket,
			entry:    "3775",
			sl:       "3771",
			tp:       []string{"3777", "3779"},
			leverage: 1,
		},
		"repeated label keeps first": {
			text:     "XAUUSD BUY NOW PRICE: 3775 TP1 3777 TP1 3999 TP2 3779 SL: 3771",
			pair:     "XAUUSD",
			side:     signal.SideBuy,
			kind:     signal.KindMarket,
			entry:    "3775",
			sl:       "3771",
			tp:       []string{"3777", "3779"},
			leverage: 1,
		},
	})
}

func TestFxGoldKillerEntryFailsClosed(t *testing.T) {
	d := mustDialect(t, "fx_gold_killer")
	for _, text := range []string{
		"XAUUSD BUY NOW PRICE: 3775 TP1 3777",
		"XAUUSD BUY NOW PRICE: 3775 SL: 3771",
		"XAUUSD BUY NOW TP1 3777 SL: 3771",
		"XAUUSD BUY NOW PRICE: 3775 TP 3777 SL: 3771",
		"Gold looks bullish today, get ready",
	} {
		_, ok := d.NewSignal(text)
		assert.False(t, ok, "text %q must not parse", text)
	}
}

func TestFxGoldKillerOutcome(t *testing.T) {
	d := mustDialect(t, "fx_gold_killer")
	runOutcomeCases(t, d, map[string]outcomeCase{
		"scenario b":       {text: "TP3 HIT +60 PIPS", action: signal.ActionTPHit, level: 3, pips: pips(60)},
		"scenario c":       {text: "Delete limit", action: signal.ActionCancelled},
		"tp with emoji":    {text: "✅TP1 HIT +20 PIPS DONE 🤑💰", action: signal.ActionTPHit, level: 1, pips: pips(20)},
		"sl":               {text: "❌ SL HIT -40 PIPS", action: signal.ActionSLHit, pips: pips(-40)},
		"sl without emoji": {text: "SL HIT -40 PIPS", action: signal.ActionSLHit, pips: pips(-40)},
		"cancel wins":      {text: "✅ Delete limit, SL HIT ❌", action: signal.ActionCancelled},
		"chatter":          {text: "Good morning traders", action: signal.ActionOther},
		"tp without hit":   {text: "TP1 3777", action: signal.ActionOther},
	})
}

func TestWolfForex(t *testing.T) {
	d := mustDialect(t, "wolf_forex")
	runEntryCases(t, d, map[string]entryCase{
		"gold": {
			text:     "XAUUSD 📈 BUY 3105.50\n💰TP1 3107.50\n💰TP2 3110.50\n💰TP3 3115.50\n🚫SL 3097.00\nWOLFXSIGNALS.COM",
			pair:     "XAUUSD",
			side:     signal.SideBuy,
			kind:     signal.KindMarket,
			entry:    "3105.50",
			sl:       "3097",
			tp:       []string{"3107.5", "3110.5", "3115.5"},
			leverage: 1,
		},
		"sell": {
			text:     "EURUSD 📉 SELL 1.0850 TP1 1.0820 TP2 1.0800 SL 1.0880",
			pair:     "EURUSD",
			side:     signal.SideSell,
			kind:     signal.KindMarket,
			entry:    "1.0850",
			sl:       "1.0880",
			tp:       []string{"1.0820", "1.0800"},
			leverage: 1,
		},
	})
	runOutcomeCases(t, d, map[string]outcomeCase{
		"take profit words": {text: "✅✅ GOLD Take Profit 1 ✅✅\n📊 Profit Made: 20 PIPS🔥", action: signal.ActionTPHit, level: 1, pips: pips(20)},
		"tp at price":       {text: "TP1 hit @ 3107.50", action: signal.ActionTPHit, level: 1, exit: "3107.50"},
		"second target":     {text: "💚 TP2 reached", action: signal.ActionTPHit, level: 2},
		"sl":                {text: "Hit SL, sorry guys! -84 PIPS✖️", action: signal.ActionSLHit, pips: pips(-84)},
		"sl triggered":      {text: "Stop Loss triggered @ 3097.00", action: signal.ActionSLHit, exit: "3097.00"},
		"tp mentions sl":    {text: "TP1 hit, moving SL to entry", action: signal.ActionTPHit, level: 1},
		"running":           {text: "Running +45 pips 🔥", action: signal.ActionInProfitUpdate, pips: pips(45)},
		"cancelled":         {text: "Order cancelled", action: signal.ActionCancelled},
		"chatter":           {text: "Market opens soon", action: signal.ActionOther},
	})
}

func TestWolfCrypto(t *testing.T) {
	d := mustDialect(t, "wolf_crypto")
	runEntryCases(t, d, map[string]entryCase{
		"aave": {
			text:     "AAVE/USDT\n🔹Enter below:167.04(with a minimum value of 166.90)\n📉SELL\n💰TP1 166.71\n💰TP2 166.21\n💰TP3 164.53\n🚫SL 168.01\n〽️Leverage 20x",
			pair:     "AAVE/USDT",
			side:     signal.SideSell,
			kind:     signal.KindLimit,
			entry:    "167.04",
			sl:       "168.01",
			tp:       []string{"166.71", "166.21", "164.53"},
			leverage: 20,
		},
		"long": {
			text:     "SOL/USDT Enter above: 150.2 📈LONG TP1 152 TP2 155 SL 147",
			pair:     "SOL/USDT",
			side:     signal.SideBuy,
			kind:     signal.KindLimit,
			entry:    "150.2",
			sl:       "147",
			tp:       []string{"152", "155"},
			leverage: 1,
		},
	})

	_, ok := d.NewSignal("AAVE/USDT Enter below:167.04 TP1 166.71 SL 168.01")
	assert.False(t, ok, "missing side must fail closed")

	runOutcomeCases(t, d, map[string]outcomeCase{
		"tp": {
			text:   "✅ AAVE/USDT Take Profit 1 ✅\n📊 Profit Made: 3.9511%🔥\n•AAVE hit a value of 166.420 in BYBIT, completing the first take profit!",
			action: signal.ActionTPHit,
			level:  1,
			profit: "3.9511",
			exit:   "166.420",
		},
		"ordinal":   {text: "✅ BTC/USDT completing the second take profit", action: signal.ActionTPHit, level: 2},
		"sl":        {text: "📣 Yes, SOL hit Stop Loss: -9.158%", action: signal.ActionSLHit, profit: "-9.158"},
		"cancelled": {text: "#AAVE/USDT Manually Cancelled", action: signal.ActionCancelled},
		"chatter":   {text: "Patience pays", action: signal.ActionOther},
	})
}

func TestVipCrypto(t *testing.T) {
	d := mustDialect(t, "vip_crypto")
	runEntryCases(t, d, map[string]entryCase{
		"long": {
			text:     "🟢 Long\nName: APE/USDT\nMargin mode: Cross (75X)\n\n↪️ Entry price(USDT):\n0.3798\n\nTargets(USDT):\n1) 0.3836\n2) 0.3874\n3) 0.3912\n4) 0.3950\n5) 🔝 unlimited",
			pair:     "APE/USDT",
			side:     signal.SideBuy,
			kind:     signal.KindLimit,
			entry:    "0.3798",
			tp:       []string{"0.3836", "0.3874", "0.3912", "0.3950"},
			leverage: 75,
		},
		"short": {
			text:     "🔴 Short Name: ETH/USDT Margin mode: Isolated (20X) ↪️ Entry price(USDT): 3,250.5 Targets(USDT): 1) 3200 2) 3150",
			pair:     "ETH/USDT",
			side:     signal.SideSell,
			kind:     signal.KindLimit,
			entry:    "3250.5",
			tp:       []string{"3200", "3150"},
			leverage: 20,
		},
	})
	runOutcomeCases(t, d, map[string]outcomeCase{
		"target":  {text: "💸 APE/USDT ✅ Target #2 Done Current profit: 75%", action: signal.ActionTPHit, level: 2, profit: "75"},
		"chatter": {text: "Target soon", action: signal.ActionOther},
	})
}

func TestLordForex(t *testing.T) {
	d := mustDialect(t, "lord_forex")
	require.True(t, d.BodyKeyed())
	runEntryCases(t, d, map[string]entryCase{
		"sell": {
			text:     "🔔 NEW ORDER - NAS100 - Sell 🔔\nEntry: 183.542\nTP @ 182.900\nSL @ 184.250\nID: 987654321",
			pair:     "NAS100",
			side:     signal.SideSell,
			kind:     signal.KindMarket,
			entry:    "183.542",
			sl:       "184.250",
			tp:       []string{"182.9"},
			leverage: 1,
			ref:      "987654321",
		},
	})
	runOutcomeCases(t, d, map[string]outcomeCase{
		"closed in profit": {
			text:   "📥 CLOSED - US100 - Sell 📥\nEntry: 183.542\nExit: 182.900\nResult: 3.50%\nID: 987654321",
			action: signal.ActionTPHit,
			level:  1,
			profit: "3.50",
			exit:   "182.900",
			ref:    "987654321",
		},
		"closed in loss": {
			text:   "📥 CLOSED - US100 - Buy 📥\nEntry: 183.542\nExit: 182.900\nResult: -1.25%\nID: 55",
			action: signal.ActionSLHit,
			profit: "-1.25",
			exit:   "182.900",
			ref:    "55",
		},
		"cancelled":          {text: "❌ ORDER CANCELLED ❌\nID: 987654321", action: signal.ActionCancelled, ref: "987654321"},
		"closed manually":    {text: "🚫 POSITION CLOSED MANUALLY\nID: 42", action: signal.ActionCancelled, ref: "42"},
		"cancel without ref": {text: "❌ ORDER CANCELLED ❌", action: signal.ActionOther},
	})
}

func TestRussianForex(t *testing.T) {
	d := mustDialect(t, "russian_forex")
	runEntryCases(t, d, map[string]entryCase{
		"buy stop": {
			text:     "BuyStop #GBPUSD (D1) ПГиП\nPrice: 1.36099\nSL: 1.34239\nTP: 1.39459\n(FX)",
			pair:     "GBPUSD",
			side:     signal.SideBuy,
			kind:     signal.KindBuyStop,
			entry:    "1.36099",
			sl:       "1.34239",
			tp:       []string{"1.39459"},
			leverage: 1,
		},
		"sell limit": {
			text:     "SellLimit #EURUSD (H4)\nPrice: 1.0850\nSL: 1.0900\nTP: 1.0750",
			pair:     "EURUSD",
			side:     signal.SideSell,
			kind:     signal.KindSellLimit,
			entry:    "1.0850",
			sl:       "1.0900",
			tp:       []string{"1.0750"},
			leverage: 1,
		},
	})
	runOutcomeCases(t, d, map[string]outcomeCase{
		"partial fix":  {text: "Часть сделки фикс, остаток в бу ✅🔥 +34 пункта", action: signal.ActionTPHit, level: 1, pips: pips(34)},
		"sl":           {text: "SL ❌\n-32 пункта", action: signal.ActionSLHit, pips: pips(-32)},
		"delete":       {text: "Delete ❌\n(Отмена)", action: signal.ActionCancelled},
		"otmena":       {text: "Отмена ❌", action: signal.ActionCancelled},
		"breakeven":    {text: "Если пропустили уведомление 📣\nПереведите в бу ✅", action: signal.ActionBreakeven},
		"in progress":  {text: "В работе ✅", action: signal.ActionInProfitUpdate},
		"chatter":      {text: "Доброе утро", action: signal.ActionOther},
	})
}

func TestSanchirForex(t *testing.T) {
	d := mustDialect(t, "sanchir_forex")
	runEntryCases(t, d, map[string]entryCase{
		"buy limit": {
			text:     "pair: XAUUSDm\nside: Buy_Limit\nprice: 3300\nsl: 3290\ntp: 3320",
			pair:     "XAUUSDM",
			side:     signal.SideBuy,
			kind:     signal.KindBuyLimit,
			entry:    "3300",
			sl:       "3290",
			tp:       []string{"3320"},
			leverage: 1,
		},
		"lower case pair": {
			text:     "pair: xauusd\nside: buy\nprice: 3300",
			pair:     "XAUUSD",
			side:     signal.SideBuy,
			kind:     signal.KindMarket,
			entry:    "3300",
			tp:       []string{},
			leverage: 1,
		},
		"market sell": {
			text:     "pair: EURUSD\nside: Sell\nprice: 1.0850",
			pair:     "EURUSD",
			side:     signal.SideSell,
			kind:     signal.KindMarket,
			entry:    "1.0850",
			tp:       []string{},
			leverage: 1,
		},
	})
	runOutcomeCases(t, d, map[string]outcomeCase{
		"cancel":    {text: "cancel this one", action: signal.ActionCancelled},
		"close":     {text: "Close now", action: signal.ActionClosed},
		"breakeven": {text: "move to breakeven", action: signal.ActionBreakeven},
		"other":     {text: "hold", action: signal.ActionOther},
	})
}

func TestClassifyRespectsReplyLink(t *testing.T) {
	fx := mustDialect(t, "fx_gold_killer")

	res := fx.Classify("PAIR BUY NOW, PRICE:100, TP1 102 TP2 104 TP3 106 TP4 108 TP5 110, SL:98", true)
	assert.Equal(t, signal.ActionOther, res.Action, "replies are never entries")

	res = fx.Classify("TP3 HIT +60 PIPS", false)
	assert.Equal(t, signal.ActionOther, res.Action, "root messages are never outcomes for reply-linked dialects")

	res = fx.Classify("TP3 HIT +60 PIPS", true)
	assert.Equal(t, signal.ActionTPHit, res.Action)
	assert.Equal(t, 3, res.Outcome.TPLevel)

	lord := mustDialect(t, "lord_forex")
	res = lord.Classify("📥 CLOSED - US100 - Sell 📥 Entry: 1 Exit: 2 Result: 3.50% ID: 7", false)
	assert.Equal(t, signal.ActionTPHit, res.Action)
	assert.Equal(t, "7", res.Ref())

	res = lord.Classify("🔔 NEW ORDER - NAS100 - Sell 🔔 Entry: 1 TP @ 2 SL @ 3 ID: 7", true)
	assert.Equal(t, signal.ActionOther, res.Action)
}

func TestClassifyIsDeterministicUnderConcurrency(t *testing.T) {
	d := mustDialect(t, "wolf_crypto")
	text := "AAVE/USDT\n🔹Enter below:167.04\n📉SELL\n💰TP1 166.71\n💰TP2 166.21\n🚫SL 168.01\n〽️Leverage 20x"
	want := d.Classify(text, false)
	require.Equal(t, signal.ActionNewSignal, want.Action)

	var wg sync.WaitGroup
	results := make([]Result, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.Classify(text, false)
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
}
