package security

import (
	"strings"
)

// OriginValidator checks a request's declared Origin header against a
// configured allow-list.
type OriginValidator struct {
	allowed []string
}

// NewOriginValidator builds a validator from the allow-list. Entries are
// matched verbatim, as "*.domain" suffix wildcards, or as the literal "*".
// Blank entries are dropped rather than treated as match-anything.
func NewOriginValidator(allowed []string) *OriginValidator {
	cleaned := make([]string, 0, len(allowed))
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		cleaned = append(cleaned, entry)
	}
	return &OriginValidator{allowed: cleaned}
}

// Check reports whether the origin is acceptable. No Origin header means a
// same-origin or non-browser caller and is allowed; an empty allow-list
// disables the check entirely.
func (v *OriginValidator) Check(origin string) bool {
	if origin == "" {
		return true
	}
	if len(v.allowed) == 0 {
		return true
	}

	for _, entry := range v.allowed {
		if entry == "*" {
			return true
		}
		if strings.HasPrefix(entry, "*.") {
			// "*.example.com" matches any host under example.com, with or
			// without a scheme on the Origin value.
			suffix := entry[1:] // ".example.com"
			host := origin
			if i := strings.Index(host, "://"); i >= 0 {
				host = host[i+3:]
			}
			if strings.HasSuffix(host, suffix) {
				return true
			}
			continue
		}
		if origin == entry {
			return true
		}
	}
	return false
}
