package timing

import "regexp"

// tagPattern matches a single bracket-delimited marker. Nested brackets are
// not supported; "[a [b] c]" yields the inner "[b]".
var tagPattern = regexp.MustCompile(`\[[^\[\]]*\]`)

// Token is one piece of a tokenised script: either free text or a tag.
type Token struct {
	Text  string
	IsTag bool
}

// Tokenize splits script into alternating text and tag tokens, preserving
// order. Empty text runs between adjacent tags are dropped.
func Tokenize(script string) []Token {
	locs := tagPattern.FindAllStringIndex(script, -1)
	tokens := make([]Token, 0, 2*len(locs)+1)

	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			tokens = append(tokens, Token{Text: script[prev:loc[0]]})
		}
		tokens = append(tokens, Token{Text: script[loc[0]:loc[1]], IsTag: true})
		prev = loc[1]
	}
	if prev < len(script) {
		tokens = append(tokens, Token{Text: script[prev:]})
	}
	return tokens
}
