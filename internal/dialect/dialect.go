// Package dialect turns normalised chat text into entry and outcome fields.
//
// Every source format is a Descriptor value. A Dialect compiles nothing at
// runtime and keeps no mutable state, so one instance serves all goroutines.
package dialect

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"signal-relay/internal/normalize"
	"signal-relay/internal/signal"
)

// Linkage tells how outcomes find the order they belong to.
type Linkage int

const (
	// ReplyLinked outcomes are replies to the entry message.
	ReplyLinked Linkage = iota
	// BodyKeyed messages carry their own order reference in the text.
	BodyKeyed
)

// SideToken maps a matching pattern to a trade direction.
type SideToken struct {
	Pattern *regexp.Regexp
	Side    signal.Side
}

// KindRule maps a matching pattern to an order kind.
type KindRule struct {
	Pattern *regexp.Regexp
	Kind    signal.OrderKind
}

// EntryRules describe how a new signal is recognised.
//
// Pattern must match. Its named groups pair, side, kind, entry, sl, tp,
// leverage and ref are read when present; the remaining fields are fallbacks
// for values the pattern does not capture.
type EntryRules struct {
	Pattern *regexp.Regexp

	EntryPrice *regexp.Regexp
	StopLoss   *regexp.Regexp
	// TakeProfit is searched with FindAll and reads groups "level" and "value".
	TakeProfit *regexp.Regexp
	// TargetsAfter limits the take-profit search to the text after its first match.
	TargetsAfter *regexp.Regexp
	Leverage     []*regexp.Regexp

	Sides       []SideToken
	Kinds       []KindRule
	DefaultKind signal.OrderKind

	RequireStopLoss   bool
	RequireTakeProfit bool
	// UpperPair upper-cases the captured pair.
	UpperPair         bool
}

// OutcomeRule is one entry of a precedence list. A rule fires when every All
// pattern matches, at least one Any pattern matches (if any are given), no
// None pattern matches and Capture, when set, matches.
type OutcomeRule struct {
	Action signal.Action
	All    []*regexp.Regexp
	Any    []*regexp.Regexp
	None   []*regexp.Regexp
	// Capture named groups pair, level, pips, profit, exit and ref take
	// priority over FieldRules. A captured value that does not parse fails
	// the whole outcome.
	Capture *regexp.Regexp
}

// FieldRules extract optional outcome details. Each pattern reads group 1.
type FieldRules struct {
	Level  []*regexp.Regexp
	Pips   *regexp.Regexp
	Profit []*regexp.Regexp
	Exit   *regexp.Regexp
}

// Descriptor is the declarative definition of one source format.
type Descriptor struct {
	Name     string
	Mode     normalize.Mode
	Linkage  Linkage
	IDPrefix string
	Entry    *EntryRules
	Outcomes []OutcomeRule
	Fields   FieldRules
}

// Result is the dialect-level classification of one message.
type Result struct {
	Action  signal.Action
	Entry   signal.EntryFields
	Outcome signal.OutcomeFields
}

// Ref returns the embedded order reference, if any.
func (r Result) Ref() string {
	if r.Action == signal.ActionNewSignal {
		return r.Entry.Ref
	}
	return r.Outcome.Ref
}

// Dialect parses text for one Descriptor.
type Dialect struct {
	desc Descriptor
}

// New wraps a descriptor.
func New(desc Descriptor) *Dialect {
	return &Dialect{desc: desc}
}

// Name returns the configuration name of the dialect.
func (d *Dialect) Name() string { return d.desc.Name }

// Mode returns the normalisation mode used before matching.
func (d *Dialect) Mode() normalize.Mode { return d.desc.Mode }

// IDPrefix tags order ids built from embedded references.
func (d *Dialect) IDPrefix() string { return d.desc.IDPrefix }

// BodyKeyed reports whether messages carry their own order reference.
func (d *Dialect) BodyKeyed() bool { return d.desc.Linkage == BodyKeyed }

// Classify evaluates the text. Entry rules only run for root messages;
// outcome rules run for replies, and for root messages of body-keyed dialects.
func (d *Dialect) Classify(text string, hasReply bool) Result {
	clean := normalize.Text(text, d.desc.Mode)

	if !hasReply {
		if fields, ok := d.newSignal(clean); ok {
			return Result{Action: signal.ActionNewSignal, Entry: fields}
		}
		if !d.BodyKeyed() {
			return Result{Action: signal.ActionOther}
		}
	}

	if action, fields, ok := d.outcome(clean); ok {
		return Result{Action: action, Outcome: fields}
	}
	return Result{Action: signal.ActionOther}
}

// NewSignal extracts entry fields, failing closed when a required field is missing.
func (d *Dialect) NewSignal(text string) (signal.EntryFields, bool) {
	return d.newSignal(normalize.Text(text, d.desc.Mode))
}

// Outcome walks the precedence list and returns the first firing rule.
func (d *Dialect) Outcome(text string) (signal.Action, signal.OutcomeFields, bool) {
	return d.outcome(normalize.Text(text, d.desc.Mode))
}

func (d *Dialect) newSignal(text string) (signal.EntryFields, bool) {
	rules := d.desc.Entry
	if rules == nil || rules.Pattern == nil {
		return signal.EntryFields{}, false
	}

	groups, ok := namedMatch(rules.Pattern, text)
	if !ok {
		return signal.EntryFields{}, false
	}

	fields := signal.EntryFields{
		Pair: groups["pair"],
		Ref:  groups["ref"],
	}
	if rules.UpperPair {
		fields.Pair = strings.ToUpper(fields.Pair)
	}
	if fields.Pair == "" {
		return signal.EntryFields{}, false
	}

	kindSource, hasKind := groups["kind"]
	if !hasKind || kindSource == "" {
		kindSource = text
	}
	fields.Kind = resolveKind(rules, kindSource)

	side, ok := resolveSide(rules, groups, text, fields.Kind)
	if !ok {
		return signal.EntryFields{}, false
	}
	fields.Side = side

	entry, ok := requiredNumber(groups["entry"], rules.EntryPrice, text)
	if !ok {
		return signal.EntryFields{}, false
	}
	fields.EntryPrice = decimal.NewNullDecimal(entry)

	if sl, found, valid := optionalNumber(groups["sl"], rules.StopLoss, text); !valid {
		return signal.EntryFields{}, false
	} else if found {
		fields.StopLoss = decimal.NewNullDecimal(sl)
	}
	if rules.RequireStopLoss && !fields.StopLoss.Valid {
		return signal.EntryFields{}, false
	}

	targets, valid := takeProfits(rules, groups["tp"], text)
	if !valid {
		return signal.EntryFields{}, false
	}
	fields.TakeProfit = targets
	if rules.RequireTakeProfit && len(fields.TakeProfit) == 0 {
		return signal.EntryFields{}, false
	}

	fields.Leverage = leverage(rules, groups["leverage"], text)
	return fields, true
}

func (d *Dialect) outcome(text string) (signal.Action, signal.OutcomeFields, bool) {
	for _, rule := range d.desc.Outcomes {
		if !rule.fires(text) {
			continue
		}

		var captured map[string]string
		if rule.Capture != nil {
			groups, ok := namedMatch(rule.Capture, text)
			if !ok {
				continue
			}
			captured = groups
		}

		fields, ok := d.outcomeFields(rule.Action, captured, text)
		if !ok {
			return signal.ActionOther, signal.OutcomeFields{}, false
		}
		if d.BodyKeyed() && fields.Ref == "" {
			return signal.ActionOther, signal.OutcomeFields{}, false
		}
		return rule.Action, fields, true
	}
	return signal.ActionOther, signal.OutcomeFields{}, false
}

func (r OutcomeRule) fires(text string) bool {
	for _, re := range r.All {
		if !re.MatchString(text) {
			return false
		}
	}
	if len(r.Any) > 0 {
		matched := false
		for _, re := range r.Any {
			if re.MatchString(text) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, re := range r.None {
		if re.MatchString(text) {
			return false
		}
	}
	return true
}

func (d *Dialect) outcomeFields(action signal.Action, captured map[string]string, text string) (signal.OutcomeFields, bool) {
	rules := d.desc.Fields
	fields := signal.OutcomeFields{
		Pair: captured["pair"],
		Ref:  captured["ref"],
	}

	if raw := captured["level"]; raw != "" {
		level, ok := parseLevel(raw)
		if !ok {
			return signal.OutcomeFields{}, false
		}
		fields.TPLevel = level
	} else if action == signal.ActionTPHit {
		fields.TPLevel = firstLevel(rules.Level, text)
	}
	if action == signal.ActionTPHit && fields.TPLevel == 0 {
		fields.TPLevel = 1
	}
	if action != signal.ActionTPHit {
		fields.TPLevel = 0
	}

	if raw := captured["pips"]; raw != "" {
		pips, ok := parseInt(raw)
		if !ok {
			return signal.OutcomeFields{}, false
		}
		fields.Pips = &pips
	} else if raw := firstGroup(rules.Pips, text); raw != "" {
		if pips, ok := parseInt(raw); ok {
			fields.Pips = &pips
		}
	}

	if raw := captured["profit"]; raw != "" {
		profit, err := parseNumber(raw)
		if err != nil {
			return signal.OutcomeFields{}, false
		}
		fields.ProfitPercent = decimal.NewNullDecimal(profit)
	} else {
		for _, re := range rules.Profit {
			if raw := firstGroup(re, text); raw != "" {
				if profit, err := parseNumber(raw); err == nil {
					fields.ProfitPercent = decimal.NewNullDecimal(profit)
					break
				}
			}
		}
	}

	if raw := captured["exit"]; raw != "" {
		exit, err := parseNumber(raw)
		if err != nil {
			return signal.OutcomeFields{}, false
		}
		fields.ExitPrice = decimal.NewNullDecimal(exit)
	} else if raw := firstGroup(rules.Exit, text); raw != "" {
		if exit, err := parseNumber(raw); err == nil {
			fields.ExitPrice = decimal.NewNullDecimal(exit)
		}
	}

	return fields, true
}

func resolveKind(rules *EntryRules, source string) signal.OrderKind {
	for _, rule := range rules.Kinds {
		if rule.Pattern.MatchString(source) {
			return rule.Kind
		}
	}
	if rules.DefaultKind != "" {
		return rules.DefaultKind
	}
	return signal.KindMarket
}

func resolveSide(rules *EntryRules, groups map[string]string, text string, kind signal.OrderKind) (signal.Side, bool) {
	source := text
	if v, ok := groups["side"]; ok && v != "" {
		source = v
	} else if v, ok := groups["kind"]; ok && v != "" {
		source = v
	}
	for _, token := range rules.Sides {
		if token.Pattern.MatchString(source) {
			return token.Side, true
		}
	}
	return kind.Side()
}

func requiredNumber(captured string, fallback *regexp.Regexp, text string) (decimal.Decimal, bool) {
	value, found, valid := optionalNumber(captured, fallback, text)
	if !found || !valid {
		return decimal.Decimal{}, false
	}
	return value, true
}

// optionalNumber returns the value, whether one was present and whether it parsed.
func optionalNumber(captured string, fallback *regexp.Regexp, text string) (decimal.Decimal, bool, bool) {
	raw := captured
	if raw == "" {
		raw = firstGroup(fallback, text)
	}
	if raw == "" {
		return decimal.Decimal{}, false, true
	}
	value, err := parseNumber(raw)
	if err != nil {
		return decimal.Decimal{}, true, false
	}
	return value, true, true
}

func takeProfits(rules *EntryRules, captured, text string) ([]decimal.Decimal, bool) {
	if captured != "" {
		value, err := parseNumber(captured)
		if err != nil {
			return nil, false
		}
		return []decimal.Decimal{value}, true
	}
	if rules.TakeProfit == nil {
		return nil, true
	}

	scope := text
	if rules.TargetsAfter != nil {
		loc := rules.TargetsAfter.FindStringIndex(text)
		if loc == nil {
			return nil, true
		}
		scope = text[loc[1]:]
	}

	levelIdx := rules.TakeProfit.SubexpIndex("level")
	valueIdx := rules.TakeProfit.SubexpIndex("value")
	if valueIdx < 0 {
		valueIdx = 1
	}

	seen := make(map[string]struct{})
	var out []decimal.Decimal
	for _, m := range rules.TakeProfit.FindAllStringSubmatch(scope, -1) {
		if levelIdx >= 0 && m[levelIdx] != "" {
			if _, dup := seen[m[levelIdx]]; dup {
				continue
			}
			seen[m[levelIdx]] = struct{}{}
		}
		value, err := parseNumber(m[valueIdx])
		if err != nil {
			return nil, false
		}
		out = append(out, value)
	}
	return out, true
}

func leverage(rules *EntryRules, captured, text string) int {
	if captured != "" {
		if v, ok := parseInt(captured); ok && v > 0 {
			return v
		}
	}
	patterns := rules.Leverage
	if patterns == nil {
		patterns = defaultLeverage
	}
	for _, re := range patterns {
		if raw := firstGroup(re, text); raw != "" {
			if v, ok := parseInt(raw); ok && v > 0 {
				return v
			}
		}
	}
	return 1
}

func firstLevel(patterns []*regexp.Regexp, text string) int {
	for _, re := range patterns {
		if raw := firstGroup(re, text); raw != "" {
			if level, ok := parseLevel(raw); ok {
				return level
			}
		}
	}
	return 0
}
