// Package redact implements the gateway's PII redaction pass (free-text regex
// scanning plus structural JSON field-keyed redaction). No third-party library
// in the retrieval pack performs PII redaction, so this is built on the
// standard library's regexp and encoding/json only — see DESIGN.md.
package redact

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	emailRe      = regexp.MustCompile(`(?i)[A-Z0-9._%+\-]+@[A-Z0-9.\-]+\.[A-Z]{2,}`)
	phoneRe      = regexp.MustCompile(`\+?\d[\d\-.\s()]{7,}\d`)
	ssnRe        = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	creditCardRe = regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)
	ipv4Re       = regexp.MustCompile(`\b(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})\b`)
	ipv6Re       = regexp.MustCompile(`\b([0-9a-fA-F]{1,4}:){2,7}[0-9a-fA-F]{0,4}\b`)
)

// structuralPrefixes maps a lower-cased, prefix-matched field name to the
// redaction rule applied to its value.
var structuralPrefixes = []struct {
	prefix string
	rule   func(string) string
}{
	{"password", full},
	{"secret", full},
	{"token", full},
	{"apikey", full},
	{"clientsecret", full},
	{"ssn", full},
	{"taxid", full},
	{"dob", full},
	{"address", full},
	{"email", redactEmail},
	{"phone", redactPhone},
	{"ip", redactIP},
}

const mask = "[REDACTED]"

// Text scans free-form text for regex-detectable PII and redacts in place.
// Total: never fails on any input.
func Text(s string) string {
	s = emailRe.ReplaceAllStringFunc(s, redactEmail)
	s = ssnRe.ReplaceAllString(s, mask)
	s = creditCardRe.ReplaceAllString(s, mask)
	s = ipv6Re.ReplaceAllStringFunc(s, func(string) string { return mask })
	s = ipv4Re.ReplaceAllStringFunc(s, redactIP)
	s = phoneRe.ReplaceAllStringFunc(s, redactPhone)
	return s
}

// JSON redacts a JSON-encoded blob: structural (field-keyed) redaction first,
// then a free-text pass over what remains to catch un-keyed matches.
// Unparseable input degrades to a pure free-text pass (total: never fails).
func JSON(raw []byte) []byte {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return []byte(Text(string(raw)))
	}
	redacted := redactValue("", v)
	out, err := json.Marshal(redacted)
	if err != nil {
		return []byte(Text(string(raw)))
	}
	return []byte(Text(string(out)))
}

func redactValue(key string, v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = redactValue(k, val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactValue(key, val)
		}
		return out
	case string:
		if rule := ruleFor(key); rule != nil {
			return rule(t)
		}
		return t
	default:
		return v
	}
}

func ruleFor(key string) func(string) string {
	lk := strings.ToLower(key)
	for _, sp := range structuralPrefixes {
		if strings.HasPrefix(lk, sp.prefix) {
			return sp.rule
		}
	}
	// postal/zip code: keep leading 3 chars
	if strings.Contains(lk, "postal") || strings.Contains(lk, "zip") {
		return redactPostal
	}
	return nil
}

func full(string) string { return mask }

func redactEmail(s string) string {
	at := strings.IndexByte(s, '@')
	if at < 1 {
		return mask
	}
	local, domain := s[:at], s[at+1:]
	if len(local) <= 2 {
		return local + "@" + domain
	}
	return string(local[0]) + strings.Repeat("*", len(local)-2) + string(local[len(local)-1]) + "@" + domain
}

func redactPhone(s string) string {
	digits := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits = append(digits, s[i])
		}
	}
	if len(digits) < 4 {
		return mask
	}
	last4 := digits[len(digits)-4:]
	return "***-***-" + string(last4)
}

func redactIP(s string) string {
	m := ipv4Re.FindStringSubmatch(s)
	if m == nil {
		return mask
	}
	return m[1] + "." + m[2] + ".xxx.xxx"
}

func redactPostal(s string) string {
	if len(s) <= 3 {
		return s
	}
	return s[:3] + strings.Repeat("x", len(s)-3)
}
