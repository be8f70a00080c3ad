package keyword

import (
	"regexp"
	"strings"
	"unicode"
)

// tokenRegex matches identifier-like runs; underscores survive the
// first split so snake_case is broken apart afterwards.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// defaultStopWords are language keywords too frequent in code to carry
// ranking signal.
var defaultStopWords = []string{
	"func", "function", "def", "class", "return", "import",
	"const", "var", "let", "int", "string", "bool", "void",
	"true", "false", "nil", "null", "this", "self", "new",
	"the", "a", "an", "and", "or", "not", "if", "else", "for",
}

// TokenizeCode splits text with code-aware rules: camelCase,
// PascalCase, and snake_case identifiers are broken into parts, all
// lowercased, and tokens shorter than two characters are dropped.
func TokenizeCode(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, sub := range splitCodeToken(word) {
			lower := strings.ToLower(sub)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

func splitCodeToken(token string) []string {
	if !strings.Contains(token, "_") {
		return splitCamelCase(token)
	}

	var result []string
	for _, part := range strings.Split(token, "_") {
		if part != "" {
			result = append(result, splitCamelCase(part)...)
		}
	}
	return result
}

// splitCamelCase splits at lower-to-upper transitions and at acronym
// boundaries: "parseHTTPRequest" yields "parse", "HTTP", "Request".
func splitCamelCase(s string) []string {
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
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func buildStopWordMap(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}
