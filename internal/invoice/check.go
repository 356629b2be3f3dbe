package invoice

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Severity grades a review finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is a non-blocking observation about extracted data, shown to the
// reviewer next to the job.
type Finding struct {
	Field    string   `json:"field,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

const (
	keyTotal        = "genelToplam"
	keyTaxableBase  = "kdvMatrahi"
	keyTaxAmount    = "kdvTutari"
	totalsTolerance = 0.01
)

// Check inspects a job's data for malformed dates, tax ids and totals that
// do not add up. Jobs without data yield no findings.
func Check(j Job) []Finding {
	if j.ExtractedData == nil {
		return nil
	}
	var out []Finding

	for _, key := range slices.Sorted(maps.Keys(j.ExtractedData)) {
		v := strings.TrimSpace(j.ExtractedData[key].Value)
		if v == "" {
			continue
		}
		switch {
		case isDateKey(key):
			if _, err := NormalizeDate(v); err != nil {
				out = append(out, Finding{Field: key, Severity: SeverityError, Message: err.Error()})
			}
		case isTaxIDKey(key):
			if err := CheckTaxID(v); err != nil {
				sev := SeverityError
				if strings.HasPrefix(key, "alici") {
					sev = SeverityWarning
				}
				out = append(out, Finding{Field: key, Severity: sev, Message: err.Error()})
			}
		}
	}

	if f, ok := checkTotals(j); ok {
		out = append(out, f)
	}
	return out
}

func checkTotals(j Job) (Finding, bool) {
	total, err := ParseAmount(j.ExtractedData.Get(keyTotal).Value)
	if err != nil || len(j.LineItems) == 0 {
		return Finding{}, false
	}
	var base, tax float64
	var seen bool
	for _, row := range j.LineItems {
		b, errB := ParseAmount(row.Get(keyTaxableBase).Value)
		t, errT := ParseAmount(row.Get(keyTaxAmount).Value)
		if errB != nil || errT != nil {
			continue
		}
		base += b
		tax += t
		seen = true
	}
	if !seen {
		return Finding{}, false
	}
	sum := base + tax
	if closeEnough(sum, total, totalsTolerance) {
		return Finding{}, false
	}
	return Finding{
		Field:    keyTotal,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("taxable base (%.2f) + tax (%.2f) = %.2f does not match total (%.2f)", base, tax, sum, total),
	}, true
}

func closeEnough(a, b, rel float64) bool {
	return math.Abs(a-b) <= rel*math.Max(math.Abs(a), math.Abs(b))
}

func isDateKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "tarih") || strings.Contains(k, "date")
}

func isTaxIDKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "vkn") || strings.Contains(k, "tckn")
}

// NormalizeDate parses a day-first date, tolerating '-' and '/' separators
// and unpadded day or month, and returns it as DD.MM.YYYY.
func NormalizeDate(s string) (string, error) {
	cleaned := strings.NewReplacer("-", ".", "/", ".").Replace(strings.TrimSpace(s))
	parts := strings.Split(cleaned, ".")
	if len(parts) == 3 {
		for i := 0; i < 2; i++ {
			if len(parts[i]) == 1 {
				parts[i] = "0" + parts[i]
			}
		}
		cleaned = strings.Join(parts, ".")
	}
	t, err := time.Parse("02.01.2006", cleaned)
	if err != nil {
		return "", fmt.Errorf("invalid date %q, expected DD.MM.YYYY", s)
	}
	return t.Format("02.01.2006"), nil
}

// CheckTaxID accepts a 10 digit VKN or an 11 digit TCKN. Non-digits are
// ignored.
func CheckTaxID(s string) error {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	if n != 10 && n != 11 {
		return fmt.Errorf("invalid VKN/TCKN length (%d digits): %s", n, s)
	}
	return nil
}

// ParseAmount reads a monetary amount written either as 1.234,56 or
// 1,234.56. Currency symbols and spaces are ignored.
func ParseAmount(s string) (float64, error) {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	lastDot := strings.LastIndex(clean, ".")
	lastComma := strings.LastIndex(clean, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(clean, ",") > 1 {
			clean = strings.ReplaceAll(clean, ",", "")
		} else {
			clean = strings.Replace(clean, ",", ".", 1)
		}
	case strings.Count(clean, ".") > 1:
		clean = strings.ReplaceAll(clean, ".", "")
	}

	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
