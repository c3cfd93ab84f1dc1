// Package parser turns admin messages into typed relay commands.
//
// Accepted forms:
//
//	/signal LONG BTCUSDT entry=50000 sl=49000 tp=52000 lev=10x
//	/signal BTCUSDT SHORT market sl:3800 tp:3500
//	BTCUSDT            (free text, optionally preceded by a /signal line)
//	LONG
//	Entry: 50000
//	SL: 49000
//	TP: 52000
//	Leverage: 10x
//	/update SIG-030126-BTCUSDT sl=49500 tp=52500
//	/close SIG-030126-BTCUSDT
//	/partial SIG-030126-BTCUSDT 50%
//	/leverage SIG-030126-BTCUSDT 20x
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"signalrelay/src/model"
	"signalrelay/src/utils"
)

const SignalIDPrefix = "SIG"

var (
	signalIDRe = regexp.MustCompile(`^SIG-\d{6}-[A-Z0-9]+$`)
	symbolRe   = regexp.MustCompile(`^[A-Z0-9]{2,30}$`)
	percentRe  = regexp.MustCompile(`^(\d+(?:\.\d+)?)%?$`)
	levTokenRe = regexp.MustCompile(`(?i)^(\d+)x?$`)

	entryRe = regexp.MustCompile(`(?i)\bentry(?:[\s_-]*price)?\s*[=:]?\s*([\d.]+)`)
	slRe    = regexp.MustCompile(`(?i)\b(?:sl|stop[\s_-]*loss)\s*[=:]?\s*([\d.]+)`)
	tpRe    = regexp.MustCompile(`(?i)\b(?:tp|take[\s_-]*profit|target)\s*[=:]?\s*([\d.]+)`)
	levRe   = regexp.MustCompile(`(?i)\blev(?:erage)?\s*[=:]?\s*([\d.]+)\s*x?`)
)

// ParseError reports a recognised command that cannot be executed as written.
type ParseError struct {
	Command string
	Reason  string
}

func (e *ParseError) Error() string {
	return e.Reason
}

func parseErr(command, format string, args ...interface{}) *ParseError {
	return &ParseError{Command: command, Reason: fmt.Sprintf(format, args...)}
}

// Parser parses commands; the clock is injectable so ids are deterministic in tests.
type Parser struct {
	now func() time.Time
}

func New(now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{now: now}
}

var defaultParser = New(nil)

// Parse parses text with the wall clock. It returns (nil, nil) when text is not
// a relay command at all.
func Parse(text string) (model.Command, error) {
	return defaultParser.Parse(text)
}

func (p *Parser) Parse(text string) (model.Command, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}

	name, rest := SplitCommand(trimmed)
	switch name {
	case "signal":
		return p.parseSignal(rest, text)
	case "update":
		return parseUpdate(rest)
	case "close":
		return parseClose("close", rest)
	case "partial":
		return parsePartial(rest)
	case "leverage", "lev":
		return parseLeverage(rest)
	case "":
		if !looksLikeFreeTextSignal(trimmed) {
			return nil, nil
		}
		return p.parseSignal(trimmed, text)
	}
	return nil, nil
}

// SignalID builds the id of a signal published at t for symbol.
// Two signals for the same symbol on the same day share an id.
func SignalID(symbol string, t time.Time) string {
	return fmt.Sprintf("%s-%s-%s", SignalIDPrefix, utils.FormatDDMMYY(t), strings.ToUpper(symbol))
}

// IsSignalID reports whether s has the generated id shape.
func IsSignalID(s string) bool {
	return signalIDRe.MatchString(strings.ToUpper(s))
}

// SymbolFromSignalID extracts the symbol part of a signal id.
func SymbolFromSignalID(id string) (string, bool) {
	parts := strings.SplitN(id, "-", 3)
	if len(parts) < 3 || parts[2] == "" {
		return "", false
	}
	return strings.ToUpper(parts[2]), true
}

// ----- /signal -----

func (p *Parser) parseSignal(body, raw string) (*model.Signal, error) {
	fields := strings.Fields(body)
	if len(fields) < 2 {
		return nil, parseErr("signal", "Usage: /signal LONG BTCUSDT sl=49000 tp=52000 [entry=50000] [lev=10x]")
	}

	direction, symbol, ok := directionAndSymbol(fields[0], fields[1])
	if !ok {
		return nil, parseErr("signal", "Signal must start with a direction (LONG/SHORT) and a symbol, got %q %q", fields[0], fields[1])
	}
	params := strings.Join(fields[2:], " ")

	stopLoss, found, err := extractFloat(slRe, params, "sl")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, parseErr("signal", "Stop loss (sl) is required")
	}

	takeProfit, found, err := extractFloat(tpRe, params, "tp")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, parseErr("signal", "Take profit (tp) is required")
	}

	entry, hasEntry, err := extractFloat(entryRe, params, "entry")
	if err != nil {
		return nil, err
	}

	leverage, err := extractLeverage(params)
	if err != nil {
		return nil, err
	}

	now := p.now()
	sig := &model.Signal{
		SignalID:   SignalID(symbol, now),
		Direction:  direction,
		Symbol:     symbol,
		OrderKind:  model.OrderKindMarket,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Leverage:   leverage,
		RawText:    raw,
		CreatedAt:  now,
	}
	// An explicit entry price wins over the "market" keyword.
	if hasEntry {
		sig.OrderKind = model.OrderKindLimit
		sig.EntryPrice = &entry
	}
	return sig, nil
}

// looksLikeFreeTextSignal accepts a symbol line and a direction line (either
// order) followed by at least one more line.
func looksLikeFreeTextSignal(text string) bool {
	lines := nonEmptyLines(text)
	if len(lines) < 3 {
		return false
	}
	if len(strings.Fields(lines[0])) != 1 || len(strings.Fields(lines[1])) != 1 {
		return false
	}
	_, _, ok := directionAndSymbol(lines[0], lines[1])
	return ok
}

func directionAndSymbol(a, b string) (model.Direction, string, bool) {
	a = normalizeSymbolToken(a)
	b = normalizeSymbolToken(b)
	if d, ok := parseDirection(a); ok && isSymbol(b) {
		return d, b, true
	}
	if d, ok := parseDirection(b); ok && isSymbol(a) {
		return d, a, true
	}
	return "", "", false
}

func parseDirection(s string) (model.Direction, bool) {
	switch s {
	case string(model.DirectionLong):
		return model.DirectionLong, true
	case string(model.DirectionShort):
		return model.DirectionShort, true
	}
	return "", false
}

func isSymbol(s string) bool {
	if _, isDir := parseDirection(s); isDir {
		return false
	}
	return symbolRe.MatchString(s)
}

func normalizeSymbolToken(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "#")
	s = strings.TrimPrefix(s, "$")
	return s
}

// ----- /update, /close, /partial, /leverage -----

func parseUpdate(rest string) (*model.SignalUpdate, error) {
	fields := strings.Fields(rest)
	if len(fields) == 0 || !IsSignalID(fields[0]) {
		return nil, parseErr("update", "Usage: /update SIG-DDMMYY-SYMBOL sl=49500 tp=52500")
	}
	params := strings.Join(fields[1:], " ")

	upd := &model.SignalUpdate{SignalID: strings.ToUpper(fields[0])}
	for _, f := range []struct {
		re   *regexp.Regexp
		name string
		dst  **float64
	}{
		{slRe, "sl", &upd.StopLoss},
		{tpRe, "tp", &upd.TakeProfit},
		{entryRe, "entry", &upd.EntryPrice},
	} {
		v, found, err := extractFloat(f.re, params, f.name)
		if err != nil {
			return nil, err
		}
		if found {
			val := v
			*f.dst = &val
		}
	}
	if upd.Empty() {
		return nil, parseErr("update", "Update must set at least one of sl, tp or entry")
	}
	return upd, nil
}

func parseClose(command, rest string) (*model.SignalClose, error) {
	fields := strings.Fields(rest)
	if len(fields) == 0 || !IsSignalID(fields[0]) {
		return nil, parseErr(command, "Usage: /%s SIG-DDMMYY-SYMBOL", command)
	}
	id := strings.ToUpper(fields[0])
	symbol, _ := SymbolFromSignalID(id)

	cls := &model.SignalClose{SignalID: id, Symbol: symbol}
	if len(fields) > 1 {
		pct, err := parsePercent(command, fields[1])
		if err != nil {
			return nil, err
		}
		cls.PartialPercent = &pct
	}
	return cls, nil
}

func parsePartial(rest string) (*model.SignalClose, error) {
	fields := strings.Fields(rest)
	if len(fields) == 0 || !IsSignalID(fields[0]) {
		return nil, parseErr("partial", "Usage: /partial SIG-DDMMYY-SYMBOL 50%%")
	}
	return parseClose("partial", rest)
}

func parsePercent(command, token string) (float64, error) {
	m := percentRe.FindStringSubmatch(token)
	if m == nil {
		return 0, parseErr(command, "Partial close percent must be between 1 and 100")
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil || pct <= 0 || pct > 100 {
		return 0, parseErr(command, "Partial close percent must be between 1 and 100")
	}
	return pct, nil
}

func parseLeverage(rest string) (*model.SignalLeverage, error) {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return nil, parseErr("leverage", "Usage: /leverage SIG-DDMMYY-SYMBOL 20x")
	}

	target := normalizeSymbolToken(fields[0])
	lev := &model.SignalLeverage{}
	switch {
	case IsSignalID(target):
		lev.SignalID = target
		lev.Symbol, _ = SymbolFromSignalID(target)
	case isSymbol(target):
		lev.Symbol = target
	default:
		return nil, parseErr("leverage", "Leverage change needs a signal id or a symbol, got %q", fields[0])
	}

	m := levTokenRe.FindStringSubmatch(fields[1])
	if m == nil {
		return nil, parseErr("leverage", "Leverage must be a positive integer")
	}
	value, err := strconv.Atoi(m[1])
	if err != nil || value < 1 {
		return nil, parseErr("leverage", "Leverage must be a positive integer")
	}
	lev.Leverage = value
	return lev, nil
}

// ----- helpers -----

// SplitCommand returns the lowercased command name without "/" or "@bot"
// suffix, and the remaining text. Non-command text yields an empty name.
func SplitCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	end := strings.IndexFunc(text, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == '\r'
	})
	head, rest := text, ""
	if end >= 0 {
		head, rest = text[:end], text[end+1:]
	}
	head = strings.TrimPrefix(head, "/")
	if at := strings.Index(head, "@"); at >= 0 {
		head = head[:at]
	}
	return strings.ToLower(head), rest
}

func extractFloat(re *regexp.Regexp, text, name string) (float64, bool, error) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(strings.TrimRight(m[1], "."), 64)
	if err != nil {
		return 0, true, parseErr(name, "Invalid %s value %q", name, m[1])
	}
	if v <= 0 {
		return 0, true, parseErr(name, "%s must be greater than zero", name)
	}
	return v, true, nil
}

func extractLeverage(text string) (int, error) {
	m := levRe.FindStringSubmatch(text)
	if m == nil {
		return model.DefaultLeverage, nil
	}
	v, err := strconv.Atoi(m[1])
	if err != nil || v < 1 {
		return 0, parseErr("lev", "Leverage must be a positive integer")
	}
	return v, nil
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			out = append(out, l)
		}
	}
	return out
}
