package normalizer

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

const (
	ReasonEmpty         = "empty"
	ReasonNotANumber    = "not-a-number"
	ReasonUpstreamError = "upstream-error"
)

// Error reports why a raw cell could not be turned into a number.
type Error struct {
	Reason string
	Input  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalize %q: %s", truncate(e.Input, 50), e.Reason)
}

// Is matches on Reason so callers can use errors.Is with the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

var (
	ErrEmpty         = &Error{Reason: ReasonEmpty}
	ErrNotANumber    = &Error{Reason: ReasonNotANumber}
	ErrUpstreamError = &Error{Reason: ReasonUpstreamError}
)

// Longest first so "rp." wins over "rp".
var currencyPrefixes = []string{"idr", "rp.", "rp"}

// Spreadsheet renderers emit these instead of a value while recalculating or on formula errors.
var upstreamMarkers = []string{"#ref!", "#n/a", "#value!", "#div/0!", "#name?", "#num!", "#null!", "#error!", "loading..."}

// Normalize parses one raw text cell into a float64, resolving
// ambiguous grouping/decimal punctuation.
func Normalize(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"`)
	if isUpstreamError(s) {
		return 0, &Error{Reason: ReasonUpstreamError, Input: raw}
	}

	s = stripCurrency(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return 0, &Error{Reason: ReasonEmpty, Input: raw}
	}

	s = disambiguate(s)
	s = strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, s)
	if s == "" {
		return 0, &Error{Reason: ReasonNotANumber, Input: raw}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, &Error{Reason: ReasonNotANumber, Input: raw}
	}
	f, _ := d.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &Error{Reason: ReasonNotANumber, Input: raw}
	}
	return f, nil
}

func isUpstreamError(s string) bool {
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "#") {
		return true
	}
	for _, m := range upstreamMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// stripCurrency removes a currency prefix, keeping a leading minus sign.
func stripCurrency(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign = "-"
		s = strings.TrimSpace(s[1:])
	}
	lower := strings.ToLower(s)
	for _, p := range currencyPrefixes {
		if strings.HasPrefix(lower, p) {
			s = s[len(p):]
			break
		}
	}
	return sign + s
}

// disambiguate rewrites s so that at most one '.' remains and it is the decimal point.
func disambiguate(s string) string {
	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')

	switch {
	case lastDot >= 0 && lastComma >= 0:
		dec := lastDot
		if lastComma > dec {
			dec = lastComma
		}
		return dropSeparators(s[:dec]) + "." + s[dec+1:]

	case lastComma >= 0:
		tail := s[lastComma+1:]
		if isDigits(tail) && len(tail) >= 1 && len(tail) <= 2 {
			return dropSeparators(s[:lastComma]) + "." + tail
		}
		return dropSeparators(s)

	case lastDot >= 0:
		tail := s[lastDot+1:]
		if isDigits(tail) && len(tail) == 3 {
			return dropSeparators(s)
		}
		return dropSeparators(s[:lastDot]) + "." + tail
	}
	return s
}

func dropSeparators(s string) string {
	return strings.NewReplacer(".", "", ",", "").Replace(s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
