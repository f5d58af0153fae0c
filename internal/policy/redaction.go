package policy

import (
	"regexp"
	"strings"
)

// Category names a class of personal data that redaction masks.
type Category string

const (
	CategoryEmail Category = "email"
	CategoryCard  Category = "card"
	CategoryPhone Category = "phone"
)

type redactionRule struct {
	category Category
	pattern  *regexp.Regexp
	marker   string
	// accept, when set, vetoes matches that only look like the category.
	accept func(match string) bool
}

// Card runs before phone so long digit runs are not classified as phone numbers.
var redactionRules = []redactionRule{
	{category: CategoryEmail, pattern: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), marker: "[REDACTED_EMAIL]"},
	{category: CategoryCard, pattern: regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), marker: "[REDACTED_CARD]", accept: luhnValid},
	{category: CategoryPhone, pattern: regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), marker: "[REDACTED_PHONE]", accept: phoneLike},
}

var isoDate = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// phoneLike rejects dates and year ranges ("2024-06-15", "2019-2023"), which
// carry at most eight digits.
func phoneLike(match string) bool {
	if isoDate.MatchString(match) {
		return false
	}
	n := countDigits(match)
	return n >= 9 && n <= 15
}

func luhnValid(match string) bool {
	sum, double := 0, false
	for i := len(match) - 1; i >= 0; i-- {
		c := match[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func countDigits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			n++
		}
	}
	return n
}

// Redaction is the outcome of masking one text.
type Redaction struct {
	Text       string
	Categories []Category
}

// Changed reports whether anything was masked.
func (r Redaction) Changed() bool { return len(r.Categories) > 0 }

// Label joins the masked categories, e.g. "email,phone".
func (r Redaction) Label() string {
	parts := make([]string, len(r.Categories))
	for i, c := range r.Categories {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

// RedactPII masks common high-risk PII patterns before text is persisted.
// Dates and year ranges are left untouched.
func RedactPII(input string) Redaction {
	out := Redaction{Text: input}
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllStringFunc(out.Text, func(m string) string {
			if rule.accept != nil && !rule.accept(m) {
				return m
			}
			return rule.marker
		})
		if next != out.Text {
			out.Categories = append(out.Categories, rule.category)
			out.Text = next
		}
	}
	return out
}
