package invoice

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Config describes a document type: the fields to extract and the
// columns of its line items.
type Config struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	IsPredefined   bool          `json:"is_predefined"`
	Fields         []FieldConfig `json:"fields"`
	LineItemFields []FieldConfig `json:"line_item_fields,omitempty"`
}

// Manual reports whether jobs using c skip automatic extraction.
func (c Config) Manual() bool {
	return len(c.Fields) == 0 && len(c.LineItemFields) == 0
}

// Validate checks that c has an id, a name and unique field keys.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("config id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("config name is required")
	}
	if err := uniqueKeys(c.Fields); err != nil {
		return fmt.Errorf("fields: %w", err)
	}
	if err := uniqueKeys(c.LineItemFields); err != nil {
		return fmt.Errorf("line item fields: %w", err)
	}
	return nil
}

func uniqueKeys(fields []FieldConfig) error {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.Key == "" {
			return fmt.Errorf("field %q has an empty key", f.Label)
		}
		if _, dup := seen[f.Key]; dup {
			return fmt.Errorf("duplicate key %q", f.Key)
		}
		seen[f.Key] = struct{}{}
	}
	return nil
}

// Clone returns a copy of c with its own field slices.
func (c Config) Clone() Config {
	out := c
	out.Fields = append([]FieldConfig(nil), c.Fields...)
	out.LineItemFields = append([]FieldConfig(nil), c.LineItemFields...)
	return out
}

// Predefined config ids.
const (
	ConfigEArsiv = "predefined-e-arsiv"
	ConfigOKC    = "predefined-okc"
	ConfigManual = "predefined-manual"
)

// PredefinedConfigs returns the built-in document types. A fresh slice is
// built on every call so callers cannot alter the originals.
func PredefinedConfigs() []Config {
	return []Config{
		{
			ID:           ConfigEArsiv,
			Name:         "e-Arşiv Fatura",
			IsPredefined: true,
			Fields: []FieldConfig{
				{Key: "faturaNumarasi", Label: "Fatura Numarası"},
				{Key: "faturaTarihi", Label: "Fatura Tarihi"},
				{Key: "faturaTuru", Label: "Fatura Türü (Alış/Satış)"},
				{Key: "saticiVknTckn", Label: "Satıcı VKN/TCKN"},
				{Key: "saticiUnvan", Label: "Satıcı Ünvan"},
				{Key: "aliciVknTckn", Label: "Alıcı VKN/TCKN"},
				{Key: "aliciUnvan", Label: "Alıcı Ünvan"},
				{Key: "genelToplam", Label: "Genel Toplam"},
			},
			LineItemFields: []FieldConfig{
				{Key: "kdvOrani", Label: "KDV Oranı (%)"},
				{Key: "kdvMatrahi", Label: "KDV Matrahı"},
				{Key: "kdvTutari", Label: "KDV Tutarı"},
			},
		},
		{
			ID:           ConfigOKC,
			Name:         "ÖKC/Yazar Kasa Fişi",
			IsPredefined: true,
			Fields: []FieldConfig{
				{Key: "fisNo", Label: "Fiş No"},
				{Key: "fisTarihi", Label: "Fiş Tarihi"},
				{Key: "fisTuru", Label: "Fiş Türü"},
				{Key: "saticiVknTckn", Label: "Satıcı VKN/TCKN"},
				{Key: "saticiUnvan", Label: "Satıcı Ünvan"},
				{Key: "genelToplam", Label: "Genel Toplam"},
			},
			LineItemFields: []FieldConfig{
				{Key: "vergiOrani", Label: "Vergi Oranı (%)"},
				{Key: "vergiTutari", Label: "Vergi Tutarı"},
			},
		},
		{
			ID:           ConfigManual,
			Name:         "Manuel Veri Girişi (Yapay Zeka olmadan)",
			IsPredefined: true,
		},
	}
}

// ConfigSet is the ordered collection of predefined and user configs.
// Predefined configs always come first.
type ConfigSet struct {
	configs []Config
}

// NewConfigSet merges user configs over the predefined ones. User entries
// that collide with a predefined id are dropped.
func NewConfigSet(user []Config) *ConfigSet {
	s := &ConfigSet{configs: PredefinedConfigs()}
	for _, c := range user {
		if s.isPredefined(c.ID) {
			continue
		}
		c = c.Clone()
		c.IsPredefined = false
		s.configs = append(s.configs, c)
	}
	return s
}

func (s *ConfigSet) isPredefined(id string) bool {
	for _, c := range s.configs {
		if c.ID == id && c.IsPredefined {
			return true
		}
	}
	return false
}

// Get returns the config with the given id.
func (s *ConfigSet) Get(id string) (Config, bool) {
	for _, c := range s.configs {
		if c.ID == id {
			return c.Clone(), true
		}
	}
	return Config{}, false
}

// All returns every config, predefined first.
func (s *ConfigSet) All() []Config {
	out := make([]Config, len(s.configs))
	for i, c := range s.configs {
		out[i] = c.Clone()
	}
	return out
}

// ErrPredefined is returned when a change targets a built-in config.
var ErrPredefined = errors.New("predefined configs cannot be modified")

// Put adds or replaces a user config.
func (s *ConfigSet) Put(c Config) error {
	if s.isPredefined(c.ID) {
		return ErrPredefined
	}
	if err := c.Validate(); err != nil {
		return err
	}
	c = c.Clone()
	c.IsPredefined = false
	for i := range s.configs {
		if s.configs[i].ID == c.ID {
			s.configs[i] = c
			return nil
		}
	}
	s.configs = append(s.configs, c)
	return nil
}

// Remove deletes a user config. It reports whether the id existed.
func (s *ConfigSet) Remove(id string) (bool, error) {
	if s.isPredefined(id) {
		return false, ErrPredefined
	}
	for i := range s.configs {
		if s.configs[i].ID == id {
			s.configs = append(s.configs[:i], s.configs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// EffectiveFields layers a job's custom fields over its config.
func EffectiveFields(c Config, j Job) (fields, lineItemFields []FieldConfig) {
	fields = appendMissing(append([]FieldConfig(nil), c.Fields...), j.CustomFields)
	lineItemFields = appendMissing(append([]FieldConfig(nil), c.LineItemFields...), j.CustomLineItemFields)
	return fields, lineItemFields
}

func appendMissing(dst, extra []FieldConfig) []FieldConfig {
	for _, f := range extra {
		dup := false
		for _, d := range dst {
			if d.Key == f.Key {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, f)
		}
	}
	return dst
}

// KeyFromLabel turns a human label into a camelCase field key:
// "Sipariş Numarası" becomes "siparisNumarasi".
func KeyFromLabel(label string) string {
	t := transform.Chain(
		runes.Map(foldTurkish),
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	folded, _, err := transform.String(t, label)
	if err != nil {
		folded = label
	}

	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			cur.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		}
	}
	flush()

	var b strings.Builder
	for i, w := range words {
		w = strings.ToLower(w)
		if i > 0 {
			w = strings.ToUpper(w[:1]) + w[1:]
		}
		b.WriteString(w)
	}
	return b.String()
}

// foldTurkish maps letters that have no combining-mark decomposition.
func foldTurkish(r rune) rune {
	switch r {
	case 'ı':
		return 'i'
	case 'İ':
		return 'I'
	}
	return r
}

// NewCustomField builds a custom field from label, rejecting labels that
// produce an empty key or collide with a key in existing.
func NewCustomField(label string, existing []FieldConfig) (FieldConfig, error) {
	label = strings.TrimSpace(label)
	key := KeyFromLabel(label)
	if key == "" {
		return FieldConfig{}, fmt.Errorf("label %q does not produce a usable key", label)
	}
	for _, f := range existing {
		if f.Key == key {
			return FieldConfig{}, fmt.Errorf("a field with key %q already exists", key)
		}
	}
	return FieldConfig{Key: key, Label: label}, nil
}
