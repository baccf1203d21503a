package llm

import "strings"

// evasivePhrases mark reviews where the model claims it never saw the paper.
var evasivePhrases = []string{
	"only the title",
	"only provided the title",
	"text was not provided",
	"full text was not provided",
	"since you have only provided the title",
	"provided text does not include",
	"cannot review the specific",
	"i cannot review",
	"insufficient information",
	"not provided beyond the title",
}

// Evasive reports whether text contains a refusal phrase, and which one.
// Matching is case-insensitive.
func Evasive(text string) (string, bool) {
	low := strings.ToLower(text)
	for _, p := range evasivePhrases {
		if strings.Contains(low, p) {
			return p, true
		}
	}
	return "", false
}
