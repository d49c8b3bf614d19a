package encoding

import (
	"strings"
	"unicode"
)

// Tokenize splits text into the distinct normalized tokens a full-text
// index stores: maximal runs of letters and digits, lower-cased. Token
// order follows first appearance.
func Tokenize(text string) []string {
	var tokens []string
	seen := make(map[string]struct{})
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		tok := b.String()
		b.Reset()
		if _, dup := seen[tok]; dup {
			return
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return tokens
}
