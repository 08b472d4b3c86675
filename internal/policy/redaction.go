package policy

import "regexp"

type redactionRule struct {
	kind        string
	pattern     *regexp.Regexp
	replacement string
}

// Card numbers run before phone numbers so long digit runs are not
// reported as phones.
var redactionRules = []redactionRule{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{"card", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{"phone", regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
	{"ip", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[REDACTED_IP]"},
}

// Redaction is the result of scrubbing one piece of text.
type Redaction struct {
	Text  string
	Kinds []string
}

// Changed reports whether anything was masked.
func (r Redaction) Changed() bool { return len(r.Kinds) > 0 }

// RedactPII masks emails, card numbers, phone numbers and IPv4 addresses
// before a turn leaves the process.
func RedactPII(input string) Redaction {
	out := Redaction{Text: input}
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out.Text, rule.replacement)
		if next != out.Text {
			out.Kinds = append(out.Kinds, rule.kind)
			out.Text = next
		}
	}
	return out
}
