package observability

import (
	"strings"
	"unicode"
)

const defaultStringLimit = 256

// cleanString drops control characters other than tab and newline and keeps
// at most limit runes.
func cleanString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	var b strings.Builder
	n := 0
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		if n == limit {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute cleans a route pattern or path for logs and span names.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return cleanString(route, 180)
}

// SanitizeMethod cleans an HTTP method.
func SanitizeMethod(method string) string {
	return strings.ToUpper(cleanString(method, 10))
}

// SanitizeIdentifier bounds a customer uid or guest session id.
func SanitizeIdentifier(id string) string {
	return cleanString(strings.TrimSpace(id), 64)
}

// MaskEmail keeps the first character of the local part and the domain of
// an operator email so admin actions stay attributable without logging the
// full address.
func MaskEmail(email string) string {
	email = SanitizeIdentifier(email)
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		if email == "" {
			return ""
		}
		return "***"
	}
	first := []rune(local)[0]
	return string(first) + "***@" + domain
}
