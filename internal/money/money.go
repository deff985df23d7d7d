// Package money converts project amounts between the compact storage
// format used by the upstream PM store and the full numeric values used
// for arithmetic and display, and handles the comma-grouped strings the
// dashboard sends for amount fields.
package money

import (
	"math"
	"strconv"
	"strings"
)

// Normalizer holds the scale heuristic used to widen storage amounts.
// The upstream store persists large budgets as units of Scale (millions),
// recognisable by being at most Threshold. Both knobs are configuration:
// the heuristic is ambiguous for genuinely small amounts in the dead zone
// (Threshold, Scale), so call sites must share one Normalizer per entity
// type rather than re-implementing the comparison.
type Normalizer struct {
	Threshold float64
	Scale     float64
}

// DefaultNormalizer matches the upstream store's convention: values in
// (0, 100] are stored millions.
var DefaultNormalizer = Normalizer{Threshold: 100, Scale: 1_000_000}

// ToFullAmount widens a stored amount to its full value. Values in
// (0, Threshold] are treated as units of Scale; everything else is
// returned unchanged, including zero and negatives.
func (n Normalizer) ToFullAmount(stored float64) float64 {
	if stored > 0 && stored <= n.Threshold {
		return stored * n.Scale
	}
	return stored
}

// ToStorageFormat compacts a full amount back to storage form. Values of
// at least Scale are divided down; smaller values pass through. Round-trips
// with ToFullAmount for x in (0, Threshold] and x >= Scale, and is lossy in
// the dead zone between them.
func (n Normalizer) ToStorageFormat(full float64) float64 {
	if full >= n.Scale {
		return full / n.Scale
	}
	return full
}

// FormatForInput renders an amount for a text input: thousands separators,
// full precision, no currency symbol. Nil and NaN render as the empty string.
func FormatForInput(v *float64) string {
	if v == nil || math.IsNaN(*v) {
		return ""
	}
	return group(strconv.FormatFloat(*v, 'f', -1, 64))
}

// ParseInput parses a user-typed amount, tolerating thousands separators
// and surrounding whitespace. Malformed input degrades to 0, never an error:
// the dashboard must not crash on a half-typed number.
func ParseInput(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// FormatCurrency renders an amount with thousands separators and an
// optional trailing currency code. Nil and NaN render as "0" (plus the
// code when requested).
func FormatCurrency(v *float64, currency string, showCurrency bool) string {
	out := "0"
	if v != nil && !math.IsNaN(*v) {
		out = group(strconv.FormatFloat(*v, 'f', -1, 64))
	}
	if showCurrency && currency != "" {
		return out + " " + currency
	}
	return out
}

// group inserts commas into the integer part of a plain decimal string.
func group(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	intPart, decPart, hasDec := strings.Cut(s, ".")

	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}

	out := b.String()
	if hasDec {
		out += "." + decPart
	}
	if neg {
		out = "-" + out
	}
	return out
}
