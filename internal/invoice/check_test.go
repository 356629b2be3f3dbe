package invoice

import (
	"math"
	"testing"
)

func TestNormalizeDate(t *testing.T) {
	good := map[string]string{
		"01.02.2024": "01.02.2024",
		"1.2.2024":   "01.02.2024",
		"01/02/2024": "01.02.2024",
		"1-2-2024":   "01.02.2024",
	}
	for in, want := range good {
		got, err := NormalizeDate(in)
		if err != nil {
			t.Errorf("NormalizeDate(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("NormalizeDate(%q) = %q, want %q", in, got, want)
		}
	}
	for _, in := range []string{"2024-02-01", "32.01.2024", "tomorrow"} {
		if _, err := NormalizeDate(in); err == nil {
			t.Errorf("NormalizeDate(%q) succeeded", in)
		}
	}
}

func TestParseAmount(t *testing.T) {
	cases := map[string]float64{
		"1.234,56":  1234.56,
		"1,234.56":  1234.56,
		"120,00 TL": 120,
		"₺ 99.90":   99.9,
		"1.000.000": 1000000,
		"1,000,000": 1000000,
		"-5,5":      -5.5,
	}
	for in, want := range cases {
		got, err := ParseAmount(in)
		if err != nil {
			t.Errorf("ParseAmount(%q): %v", in, err)
			continue
		}
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("ParseAmount(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseAmount("abc"); err == nil {
		t.Error("ParseAmount(abc) succeeded")
	}
}

func TestCheckFindings(t *testing.T) {
	j := Job{
		Status: StatusAwaitingReview,
		ExtractedData: Fields{
			"faturaTarihi":  {Value: "2024-13-45"},
			"saticiVknTckn": {Value: "12345"},
			"aliciVknTckn":  {Value: "123"},
			"genelToplam":   {Value: "200,00"},
		},
		LineItems: []Fields{
			{"kdvMatrahi": {Value: "100,00"}, "kdvTutari": {Value: "20,00"}},
		},
	}
	findings := Check(j)

	byField := map[string]Finding{}
	for _, f := range findings {
		byField[f.Field] = f
	}
	if f, ok := byField["faturaTarihi"]; !ok || f.Severity != SeverityError {
		t.Errorf("date finding = %+v", f)
	}
	if f, ok := byField["saticiVknTckn"]; !ok || f.Severity != SeverityError {
		t.Errorf("seller id finding = %+v", f)
	}
	if f, ok := byField["aliciVknTckn"]; !ok || f.Severity != SeverityWarning {
		t.Errorf("buyer id finding = %+v", f)
	}
	if f, ok := byField["genelToplam"]; !ok || f.Severity != SeverityWarning {
		t.Errorf("totals finding = %+v", f)
	}
}

func TestCheckCleanJob(t *testing.T) {
	j := Job{
		Status: StatusAwaitingReview,
		ExtractedData: Fields{
			"faturaTarihi":  {Value: "05.03.2024"},
			"saticiVknTckn": {Value: "1234567890"},
			"genelToplam":   {Value: "120,50"},
		},
		LineItems: []Fields{
			{"kdvMatrahi": {Value: "100,00"}, "kdvTutari": {Value: "20,00"}},
		},
	}
	if f := Check(j); len(f) != 0 {
		t.Errorf("unexpected findings: %+v", f)
	}
	if f := Check(Job{Status: StatusQueued}); f != nil {
		t.Errorf("findings for job without data: %+v", f)
	}
}
