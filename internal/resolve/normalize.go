// Package resolve partitions project cards into canonical projects.
package resolve

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var multiSpaceRe = regexp.MustCompile(`\s+`)

// NormalizeCompany standardizes a company name for exact matching:
//  1. Unicode NFC composition
//  2. Trimming whitespace
//  3. Collapsing internal whitespace runs into single spaces
//
// Case is preserved; "Vantage" and "VANTAGE" are different companies.
func NormalizeCompany(name string) string {
	name = norm.NFC.String(name)
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return multiSpaceRe.ReplaceAllString(name, " ")
}

// NormalizePlace standardizes a location or site hint by folding diacritics,
// lowercasing and dropping every punctuation and whitespace rune, so that
// "Shackelford County, TX" and "shackelford  county tx" compare equal.
func NormalizePlace(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	folded, _, err := transform.String(foldChain(), s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// foldChain decomposes, drops combining marks and recomposes. transform
// chains carry state, so each call gets a fresh one.
func foldChain() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}
