package cachecontrol

import "strings"

// directiveTokens splits a Cache-Control value into its comma-separated
// directive tokens.
//
// §  quoted-string = <quoted-string, see [HTTP], Section 5.6.4>
//
// A comma inside a quoted-string argument is part of the directive, not a
// list separator, so splitting happens only at quote depth zero. Inside a
// quoted string a backslash escapes the following character, which keeps an
// escaped quote from closing the string. Tokens are trimmed of surrounding
// whitespace and empty tokens (leading, trailing or doubled commas) are
// dropped. There is no failure mode: an unterminated quoted string swallows
// the rest of the value into the final token.
func directiveTokens(value string) []string {
	var tokens []string
	appendToken := func(token string) {
		token = strings.TrimSpace(token)
		if token != "" {
			tokens = append(tokens, token)
		}
	}

	start := 0
	inQuotes := false
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '"':
			inQuotes = !inQuotes
		case '\\':
			// quoted-pair: the next character cannot close the string
			if inQuotes && i+1 < len(value) {
				i++
			}
		case ',':
			if !inQuotes {
				appendToken(value[start:i])
				start = i + 1
			}
		}
	}
	appendToken(value[start:])

	return tokens
}
