package armada

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Length caps per input class.
const (
	MaxRoleLength        = 255
	MaxGoalLength        = 1000
	MaxDescriptionLength = 10000
)

// dangerousPatterns match content that must never reach a prompt, a tool,
// or the durable store. All matching is case-insensitive.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)\bon\w+\s*=`), // event-handler attributes
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)\bexec\s*\(`),
	regexp.MustCompile(`(?i)\bsystem\s*\(`),
	regexp.MustCompile(`(?i)\bshell_exec\s*\(`),
	regexp.MustCompile(`(?i)\bpassthru\s*\(`),
	regexp.MustCompile(`(?i)\bproc_open\s*\(`),
}

// controlChars are stripped before any other check. NUL is removed outright;
// CR, LF, and TAB collapse to a single space so word boundaries survive.
var controlChars = strings.NewReplacer(
	"\x00", "",
	"\r", " ",
	"\n", " ",
	"\t", " ",
)

// Sanitize strips control characters, normalizes unicode (NFKC folds
// fullwidth Latin and other obfuscations), and trims whitespace.
// Idempotent: Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string) string {
	cleaned := controlChars.Replace(s)
	cleaned = norm.NFKC.String(cleaned)
	return strings.TrimSpace(cleaned)
}

// CheckDangerous reports whether s matches any dangerous pattern.
// Matching runs on the sanitized form so obfuscated payloads are caught.
func CheckDangerous(s string) bool {
	cleaned := Sanitize(s)
	for _, re := range dangerousPatterns {
		if re.MatchString(cleaned) {
			return true
		}
	}
	return false
}

// sanitizeField sanitizes a named field, enforcing non-emptiness, the
// length cap, and the dangerous-pattern rejection. Returns the cleaned
// value or an *ErrInput.
func sanitizeField(field, value string, maxLen int) (string, error) {
	cleaned := Sanitize(value)
	if cleaned == "" {
		return "", &ErrInput{Field: field, Reason: "must not be empty"}
	}
	if maxLen > 0 && len(cleaned) > maxLen {
		return "", &ErrInput{Field: field, Reason: "too long"}
	}
	if CheckDangerous(cleaned) {
		return "", &ErrInput{Field: field, Reason: "dangerous content"}
	}
	return cleaned, nil
}

// SanitizeMap sanitizes every string value in a config/context map,
// rejecting dangerous content. Non-string values pass through.
func SanitizeMap(field string, m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			cleaned := Sanitize(s)
			if CheckDangerous(cleaned) {
				return nil, &ErrInput{Field: field + "." + k, Reason: "dangerous content"}
			}
			out[k] = cleaned
			continue
		}
		out[k] = v
	}
	return out, nil
}
