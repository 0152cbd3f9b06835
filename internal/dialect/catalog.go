package dialect

import (
	"regexp"
	"sort"
	"strings"

	"signal-relay/internal/normalize"
	"signal-relay/internal/signal"
)

// num matches a price with optional thousands separators.
const num = `\d[\d,]*(?:\.\d+)?`

func re(pattern string) *regexp.Regexp {
	return regexp.MustCompile(strings.ReplaceAll(pattern, "{num}", num))
}

func res(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, re(p))
	}
	return out
}

var directionTokens = []SideToken{
	{Pattern: re(`(?i)\b(?:buy|long)(?:\b|_)|🟢`), Side: signal.SideBuy},
	{Pattern: re(`(?i)\b(?:sell|short)(?:\b|_)|🔴`), Side: signal.SideSell},
}

var fxGoldKiller = Descriptor{
	Name: "fx_gold_killer",
	Mode: normalize.Collapse,
	Entry: &EntryRules{
		Pattern:           re(`\b(?P<pair>[A-Z][A-Z0-9]{2,9}(?:/[A-Z]{3,5})?)\s+(?P<side>(?i:BUY|SELL))(?:\s+(?P<kind>(?i:NOW|LIMIT)))?[\s,📣🔊]*(?i:PRICE)\s*:?\s*(?P<entry>{num})`),
		StopLoss:          re(`(?i:\bSL)\s*:?\s*({num})`),
		TakeProfit:        re(`(?i:\bTP)\s*(?P<level>\d{1,2})\b\s*:?\s*(?P<value>{num})`),
		Sides:             directionTokens,
		Kinds:             []KindRule{{Pattern: re(`(?i)^limit$`), Kind: signal.KindLimit}},
		DefaultKind:       signal.KindMarket,
		RequireStopLoss:   true,
		RequireTakeProfit: true,
	},
	Outcomes: []OutcomeRule{
		{Action: signal.ActionCancelled, All: res(`(?i)\bdelete\b`, `(?i)\blimit\b`)},
		{Action: signal.ActionSLHit, All: res(`(?i)\bSL\b`, `(?i)\bHIT\b`), Any: res(`❌`, `-\s*\d+\s*(?i:PIPS)`)},
		{Action: signal.ActionTPHit, All: res(`(?i)\bTP\s*\d*`, `(?i)\bHIT\b`), None: res(`❌`, `-\s*\d+\s*(?i:PIPS)`)},
	},
	Fields: FieldRules{
		Level: res(`(?i)\bTP\s*(\d+)`),
		Pips:  re(`([+-]?\d+)\s*(?i:PIPS)`),
	},
}

var wolfForex = Descriptor{
	Name: "wolf_forex",
	Mode: normalize.Collapse,
	Entry: &EntryRules{
		Pattern:           re(`\b(?P<pair>[A-Z][A-Z0-9]{2,9})\s*[📈📉↗↘⬆⬇]\s*(?P<side>(?i:BUY|SELL))\b\s*(?P<entry>{num})`),
		StopLoss:          re(`(?i:\b(?:SL|Stop\s*Loss))\s*:?\s*({num})`),
		TakeProfit:        re(`(?i:\b(?:TP|Take\s*Profit))\s*(?P<level>\d*)\s+(?P<value>{num})`),
		Sides:             directionTokens,
		DefaultKind:       signal.KindMarket,
		RequireStopLoss:   true,
		RequireTakeProfit: true,
	},
	Outcomes: []OutcomeRule{
		{Action: signal.ActionCancelled, Any: res(`(?i)\b(?:cancel(?:l?ed)?|delete[d]?)\b`)},
		{
			Action: signal.ActionSLHit,
			All:    res(`(?i)\b(?:SL|stop\s*loss|stopped)\b`),
			Any:    res(`✖`, `❌`, `(?i)stopped\s+out`, `(?i)\btriggered\b`, `(?i)\bhit\b`, `(?i)-\s*\d+\s*pips`),
			None:   res(`(?i)\b(?:TP\s*\d*|take\s*profit|profit\s*taken)\b`, `✅`, `💚`),
		},
		{
			Action: signal.ActionTPHit,
			Any:    res(`(?i)\b(?:TP\s*\d*|take\s*profit|profit\s*taken)\b`, `✅`, `💚`),
			None:   res(`✖`, `❌`),
		},
		{
			Action: signal.ActionInProfitUpdate,
			Any:    res(`(?i)\b(?:running|in\s+profit|floating)\b`),
			None:   res(`(?i)\b(?:TP\s*\d*|take\s*profit)\b`),
		},
	},
	Fields: FieldRules{
		Level: res(`(?i)\b(?:TP|Take\s*Profit)\s*(\d+)`),
		Pips:  re(`([+-]?\d+)\s*(?i:pips)`),
		Exit:  re(`@\s*({num})`),
	},
}

var wolfCrypto = Descriptor{
	Name: "wolf_crypto",
	Mode: normalize.Collapse,
	Entry: &EntryRules{
		Pattern:           re(`\b(?P<pair>[A-Z0-9]{2,10}/USDT)\b`),
		EntryPrice:        re(`(?i)(?:enter\s+(?:below|above)|entry|price)\s*:?\s*({num})`),
		StopLoss:          re(`(?i)\b(?:SL|stop\s*loss)\s*:?\s*({num})`),
		TakeProfit:        re(`(?i)\bTP\s*(?P<level>\d*)\s*:?\s+(?P<value>{num})`),
		Sides:             directionTokens,
		DefaultKind:       signal.KindLimit,
		RequireStopLoss:   true,
		RequireTakeProfit: true,
	},
	Outcomes: []OutcomeRule{
		{Action: signal.ActionCancelled, Any: res(`(?i)\bcancel+ed\b`)},
		{
			Action: signal.ActionSLHit,
			All:    res(`(?i)\b(?:SL|stop\s*loss)\b`),
			Any:    res(`(?i)\b(?:hit|reached|triggered)\b`),
			None:   res(`(?i)\b(?:TP\s*\d*|take\s*profit)\b`),
		},
		{
			Action: signal.ActionTPHit,
			All:    res(`(?i)\b(?:TP\s*\d*|take\s*profit)\b`),
			Any:    res(`(?i)\b(?:hit|reached|completed|completing|done)\b`, `✅`, `(?i)profit\s+made`),
		},
	},
	Fields: FieldRules{
		Level: res(
			`(?i)\bTP\s?(\d+)`,
			`(?i)take\s*profit\s*(\d+)`,
			`(?i)\b(first|1st|second|2nd|third|3rd|fourth|4th|fifth|5th)\s+(?:take\s*profit|tp|target)`,
		),
		Profit: res(
			`(?i)profit(?:\s+made)?\s*:\s*([+-]?\d+(?:\.\d+)?)\s*%`,
			`(?i)stop\s*loss\s*:\s*([+-]?\d+(?:\.\d+)?)\s*%`,
		),
		Exit: re(`(?i)value\s+of\s+({num})`),
	},
}

var vipCrypto = Descriptor{
	Name: "vip_crypto",
	Mode: normalize.Collapse,
	Entry: &EntryRules{
		Pattern:           re(`[🟢🔴]?\s*(?P<side>(?i:Long|Short))\s*(?i:Name)\s*:\s*(?P<pair>[A-Z0-9]{2,10}/USDT)\b.*?(?i:Entry\s+price)\s*(?:\(USDT\))?\s*:\s*(?P<entry>{num})`),
		TargetsAfter:      re(`(?i)Targets\s*(?:\(USDT\))?\s*:`),
		TakeProfit:        re(`(?P<level>\d+)\)\s*(?P<value>{num})`),
		Sides:             directionTokens,
		DefaultKind:       signal.KindLimit,
		RequireTakeProfit: true,
	},
	Outcomes: []OutcomeRule{
		{
			Action:  signal.ActionTPHit,
			Capture: re(`💸\s*(?P<pair>[A-Z0-9]{2,10}/USDT)\s*✅\s*(?i:Target)\s*#(?P<level>\d+)\s*(?i:Done)\b.*?(?i:profit)\s*:\s*(?P<profit>[+-]?\d+(?:\.\d+)?)\s*%`),
		},
	},
}

var lordForex = Descriptor{
	Name:     "lord_forex",
	Mode:     normalize.Collapse,
	Linkage:  BodyKeyed,
	IDPrefix: "lord",
	Entry: &EntryRules{
		Pattern:     re(`🔔\s*(?i:NEW\s+ORDER)\s*-\s*(?P<pair>[A-Z][A-Z0-9]{2,9})\s*-\s*(?P<side>(?i:Buy|Sell))\s*🔔\s*(?i:Entry)\s*:\s*(?P<entry>{num})\s*(?i:TP)\s*@\s*(?P<tp>{num})\s*(?i:SL)\s*@\s*(?P<sl>{num})\s*(?i:ID)\s*:\s*(?P<ref>\d+)`),
		Sides:       directionTokens,
		DefaultKind: signal.KindMarket,
	},
	Outcomes: []OutcomeRule{
		{
			Action:  signal.ActionCancelled,
			Capture: re(`(?:❌\s*(?i:ORDER\s+CANCELL?ED)|🚫\s*(?i:POSITION\s+CLOSED\s+MANUALLY)).*?(?i:ID)\s*:\s*(?P<ref>\d+)`),
		},
		{
			Action:  signal.ActionSLHit,
			Capture: re(`📥\s*(?i:CLOSED)\s*-\s*(?P<pair>[A-Z][A-Z0-9]{2,9})\s*-\s*(?i:Buy|Sell)\s*📥.*?(?i:Exit)\s*:\s*(?P<exit>{num})\s*(?i:Result)\s*:\s*(?P<profit>-\d+(?:\.\d+)?)\s*%\s*(?i:ID)\s*:\s*(?P<ref>\d+)`),
		},
		{
			Action:  signal.ActionTPHit,
			Capture: re(`📥\s*(?i:CLOSED)\s*-\s*(?P<pair>[A-Z][A-Z0-9]{2,9})\s*-\s*(?i:Buy|Sell)\s*📥.*?(?i:Exit)\s*:\s*(?P<exit>{num})\s*(?i:Result)\s*:\s*(?P<profit>\+?\d+(?:\.\d+)?)\s*%\s*(?i:ID)\s*:\s*(?P<ref>\d+)`),
		},
	},
}

var russianForex = Descriptor{
	Name: "russian_forex",
	Mode: normalize.PreserveLines,
	Entry: &EntryRules{
		Pattern:    re(`(?P<kind>(?i:BuyStop|SellStop|BuyLimit|SellLimit))\s*#(?P<pair>[A-Z0-9]{3,10})\b[^\n]*\n(?i:Price)\s*:\s*(?P<entry>{num})`),
		StopLoss:   re(`(?im)^SL\s*:\s*({num})`),
		TakeProfit: re(`(?im)^TP(?P<level>\d*)\s*:\s*(?P<value>{num})`),
		Sides:      directionTokens,
		Kinds: []KindRule{
			{Pattern: re(`(?i)^buystop$`), Kind: signal.KindBuyStop},
			{Pattern: re(`(?i)^sellstop$`), Kind: signal.KindSellStop},
			{Pattern: re(`(?i)^buylimit$`), Kind: signal.KindBuyLimit},
			{Pattern: re(`(?i)^selllimit$`), Kind: signal.KindSellLimit},
		},
		RequireStopLoss:   true,
		RequireTakeProfit: true,
	},
	Outcomes: []OutcomeRule{
		{Action: signal.ActionCancelled, Any: res(`(?i)(?:delete|отмена|удал[а-я]*)\s*❌`)},
		{Action: signal.ActionBreakeven, Any: res(`(?i)переведите\s+в\s+(?:бу|безубыток)`)},
		{Action: signal.ActionInProfitUpdate, Any: res(`(?i)в\s+работе`)},
		{Action: signal.ActionSLHit, All: res(`❌`), Any: res(`(?i)\bSL\b`, `(?i)стоп`, `(?i)пункт`)},
		{
			Action: signal.ActionTPHit,
			Any:    res(`(?i)фикс`, `(?i)take\s*profit`, `(?i)\bTP\b`, `(?i)пункт`, `✅`, `🔥`),
			None:   res(`❌`, `(?i)если\s+пропустили\s+уведомление`, `(?i)в\s+работе`, `(?i)переведите\s+в\s+бу`),
		},
	},
	Fields: FieldRules{
		Pips: re(`([+-]?\d+)\s*(?i:пункт)`),
	},
}

var sanchirForex = Descriptor{
	Name: "sanchir_forex",
	Mode: normalize.PreserveLines,
	Entry: &EntryRules{
		Pattern:    re(`(?im)^pair\s*:\s*(?P<pair>[A-Za-z0-9/]+)\s*\n\s*side\s*:\s*(?P<kind>buy_limit|sell_limit|buy|sell)\s*\n\s*price\s*:\s*(?P<entry>{num})`),
		StopLoss:   re(`(?im)^sl\s*:\s*({num})`),
		TakeProfit: re(`(?im)^tp(?P<level>\d*)\s*:\s*(?P<value>{num})`),
		Sides:      directionTokens,
		Kinds: []KindRule{
			{Pattern: re(`(?i)^buy_limit$`), Kind: signal.KindBuyLimit},
			{Pattern: re(`(?i)^sell_limit$`), Kind: signal.KindSellLimit},
		},
		DefaultKind: signal.KindMarket,
		UpperPair:   true,
	},
	Outcomes: []OutcomeRule{
		{Action: signal.ActionCancelled, Any: res(`(?i)cancel`)},
		{Action: signal.ActionClosed, Any: res(`(?i)\bclose`)},
		{Action: signal.ActionBreakeven, Any: res(`(?i)break\s*even`)},
	},
}

var catalog = buildCatalog(
	fxGoldKiller,
	wolfForex,
	wolfCrypto,
	vipCrypto,
	lordForex,
	russianForex,
	sanchirForex,
)

func buildCatalog(descs ...Descriptor) map[string]*Dialect {
	out := make(map[string]*Dialect, len(descs))
	for _, d := range descs {
		out[d.Name] = New(d)
	}
	return out
}

// Lookup returns the built-in dialect registered under name.
func Lookup(name string) (*Dialect, bool) {
	d, ok := catalog[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

// Names lists the built-in dialects in sorted order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
