package observability

import (
	"net/url"
	"strings"
	"unicode"
)

var sensitiveQueryKeys = map[string]struct{}{
	"token":        {},
	"access_token": {},
	"session_id":   {},
	"email":        {},
	"phone":        {},
}

// clean strips control characters and truncates to limit runes to keep log lines single-line.
func clean(value string, limit int) string {
	var b strings.Builder
	n := 0
	for _, r := range value {
		if unicode.IsControl(r) {
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

// RedactQuery masks values of query parameters that may carry credentials or contact details.
func RedactQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return "[unparsable]"
	}
	for key := range values {
		if _, ok := sensitiveQueryKeys[strings.ToLower(key)]; ok {
			values[key] = []string{"REDACTED"}
		}
	}
	return clean(values.Encode(), 256)
}
