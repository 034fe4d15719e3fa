package backend

import (
	"regexp"
	"strings"
	"unicode"
)

// identifierRe matches alphanumeric runs, keeping underscores so snake_case
// identifiers survive the first split.
var identifierRe = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// codeStopWords are language keywords and throwaway identifier fragments
// that carry no retrieval signal.
var codeStopWords = map[string]struct{}{
	"var": {}, "let": {}, "const": {}, "func": {}, "function": {}, "def": {},
	"class": {}, "return": {}, "if": {}, "else": {}, "for": {}, "while": {},
	"data": {}, "result": {}, "value": {}, "item": {}, "key": {}, "err": {},
	"ctx": {}, "tmp": {},
}

// tokenizeIdentifiers splits text with code-aware rules: camelCase,
// PascalCase, and snake_case identifiers break into their parts, tokens are
// lowercased, and tokens under 2 chars are dropped.
func tokenizeIdentifiers(text string) []string {
	var tokens []string
	for _, word := range identifierRe.FindAllString(text, -1) {
		for _, part := range splitIdentifier(word) {
			lower := strings.ToLower(part)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// splitIdentifier breaks snake_case first, then camelCase within each part.
func splitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamel(part)...)
			}
		}
		return result
	}
	return splitCamel(token)
}

// splitCamel splits camelCase and PascalCase, keeping acronym runs intact:
// "parseHTTPRequest" -> ["parse", "HTTP", "Request"].
func splitCamel(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}
