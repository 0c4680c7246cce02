package usecase

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/kirillkom/folder-rag/internal/core/domain"
)

// ParseLexicalQuery turns raw input into lower-cased search terms. Input is
// NFC-normalized first, then split on every rune that is not a letter, digit or
// combining mark, so "COVID-19" yields "covid" and "19". It never fails:
// punctuation-only or blank input yields an empty query, which must match nothing.
func ParseLexicalQuery(raw string) domain.LexicalQuery {
	pieces := strings.FieldsFunc(norm.NFC.String(raw), func(r rune) bool {
		return !isTermRune(r)
	})
	terms := make([]string, 0, len(pieces))
	seen := make(map[string]struct{}, len(pieces))
	for _, piece := range pieces {
		term := strings.ToLower(piece)
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	return domain.LexicalQuery{Terms: terms}
}

func isTermRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}
