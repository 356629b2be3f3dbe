package invoice

import (
	"errors"
	"testing"
)

func TestKeyFromLabel(t *testing.T) {
	cases := map[string]string{
		"Sipariş Numarası":   "siparisNumarasi",
		"Fatura Türü":        "faturaTuru",
		"  İrsaliye   No  ":  "irsaliyeNo",
		"KDV Oranı (%)":      "kdvOrani",
		"Ödeme Şekli / Tipi": "odemeSekliTipi",
		"%%%":                "",
	}
	for label, want := range cases {
		if got := KeyFromLabel(label); got != want {
			t.Errorf("KeyFromLabel(%q) = %q, want %q", label, got, want)
		}
	}
}

func TestNewCustomFieldRejectsDuplicates(t *testing.T) {
	existing := PredefinedConfigs()[0].Fields

	if _, err := NewCustomField("Fatura Numarası", existing); err == nil {
		t.Error("expected duplicate key error")
	}
	f, err := NewCustomField("Sipariş No", existing)
	if err != nil {
		t.Fatalf("NewCustomField: %v", err)
	}
	if f.Key != "siparisNo" || f.Label != "Sipariş No" {
		t.Errorf("field = %+v", f)
	}
	if _, err := NewCustomField("!!", nil); err == nil {
		t.Error("expected error for label without usable characters")
	}
}

func TestPredefinedConfigsAreValid(t *testing.T) {
	for _, c := range PredefinedConfigs() {
		if err := c.Validate(); err != nil {
			t.Errorf("%s: %v", c.ID, err)
		}
		if !c.IsPredefined {
			t.Errorf("%s: IsPredefined = false", c.ID)
		}
	}
	manual, _ := NewConfigSet(nil).Get(ConfigManual)
	if !manual.Manual() {
		t.Error("manual config does not report Manual()")
	}
}

func TestConfigSetProtectsPredefined(t *testing.T) {
	s := NewConfigSet([]Config{
		{ID: ConfigEArsiv, Name: "hijack"},
		{ID: "user-1", Name: "Kira", Fields: []FieldConfig{{Key: "tutar", Label: "Tutar"}}},
	})

	got, ok := s.Get(ConfigEArsiv)
	if !ok || got.Name != "e-Arşiv Fatura" {
		t.Errorf("predefined config overridden: %+v", got)
	}
	if all := s.All(); len(all) != len(PredefinedConfigs())+1 || all[len(all)-1].ID != "user-1" {
		t.Fatalf("configs = %+v, want predefined followed by user-1", all)
	}

	if err := s.Put(Config{ID: ConfigOKC, Name: "x"}); !errors.Is(err, ErrPredefined) {
		t.Errorf("Put predefined: err = %v", err)
	}
	if _, err := s.Remove(ConfigManual); !errors.Is(err, ErrPredefined) {
		t.Errorf("Remove predefined: err = %v", err)
	}

	removed, err := s.Remove("user-1")
	if err != nil || !removed {
		t.Errorf("Remove(user-1) = %v, %v", removed, err)
	}
	if _, ok := s.Get("user-1"); ok {
		t.Error("user-1 still present")
	}
}

func TestConfigValidateDuplicateKeys(t *testing.T) {
	c := Config{ID: "c", Name: "c", Fields: []FieldConfig{{Key: "a", Label: "A"}, {Key: "a", Label: "B"}}}
	if err := c.Validate(); err == nil {
		t.Error("expected duplicate key error")
	}
}

func TestEffectiveFields(t *testing.T) {
	c := Config{Fields: []FieldConfig{{Key: "a", Label: "A"}}, LineItemFields: []FieldConfig{{Key: "r", Label: "R"}}}
	j := Job{
		CustomFields:         []FieldConfig{{Key: "b", Label: "B"}, {Key: "a", Label: "dup"}},
		CustomLineItemFields: []FieldConfig{{Key: "s", Label: "S"}},
	}
	fields, rows := EffectiveFields(c, j)
	if len(fields) != 2 || fields[1].Key != "b" {
		t.Errorf("fields = %+v", fields)
	}
	if len(rows) != 2 || rows[1].Key != "s" {
		t.Errorf("line item fields = %+v", rows)
	}
	if len(c.Fields) != 1 {
		t.Error("config mutated")
	}
}
