package security

import "strings"

// defaultSensitiveTerms flag keys that likely reference credentials or
// personal identifiers. Matching is case-insensitive substring.
var defaultSensitiveTerms = []string{
	"token",
	"auth",
	"password",
	"secret",
	"credential",
	"key",
	"pin",
	"ssn",
	"account",
	"card",
	"cvv",
}

// Detector classifies cache keys and values as sensitive so the engine
// can encrypt selectively.
type Detector struct {
	terms []string
}

// NewDetector creates a detector with the built-in terms plus any
// extra host-supplied ones.
func NewDetector(extra ...string) *Detector {
	terms := make([]string, 0, len(defaultSensitiveTerms)+len(extra))
	terms = append(terms, defaultSensitiveTerms...)
	for _, term := range extra {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			terms = append(terms, term)
		}
	}
	return &Detector{terms: terms}
}

// IsSensitiveKey reports whether a cache key matches any term.
func (d *Detector) IsSensitiveKey(key string) bool {
	return d.matches(key)
}

// IsSensitiveValue walks structured values and reports whether any
// nested map key matches a term. Scalars are never sensitive on their
// own; sensitivity comes from what they are labeled as.
func (d *Detector) IsSensitiveValue(value interface{}) bool {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, nested := range v {
			if d.matches(key) || d.IsSensitiveValue(nested) {
				return true
			}
		}
	case map[string]string:
		for key := range v {
			if d.matches(key) {
				return true
			}
		}
	case []interface{}:
		for _, item := range v {
			if d.IsSensitiveValue(item) {
				return true
			}
		}
	}
	return false
}

// Sensitive reports whether either the key or the value is sensitive.
func (d *Detector) Sensitive(key string, value interface{}) bool {
	return d.IsSensitiveKey(key) || d.IsSensitiveValue(value)
}

func (d *Detector) matches(field string) bool {
	lowered := strings.ToLower(field)
	for _, term := range d.terms {
		if strings.Contains(lowered, term) {
			return true
		}
	}
	return false
}
