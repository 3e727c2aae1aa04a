// Package textproc normalises incident text and extracts ranked keywords.
package textproc

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/jdkato/prose/v2"
)

var htmlTagPattern = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)

// PlainText strips markup that ticketing systems embed in descriptions and
// collapses whitespace. Text without tags is only whitespace-normalised.
func PlainText(s string) string {
	if htmlTagPattern.MatchString(s) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
		if err == nil {
			doc.Find("script, style").Remove()
			doc.Find("br, p, div, li, tr").Each(func(_ int, sel *goquery.Selection) {
				sel.AppendHtml(" ")
			})
			s = doc.Text()
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

// Tokens returns the lower-cased word tokens of s with punctuation removed.
// Tokens without a letter or digit are dropped.
func Tokens(s string) []string {
	s = PlainText(s)
	if s == "" {
		return nil
	}

	doc, err := prose.NewDocument(s,
		prose.WithTagging(false),
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return fallbackTokens(s)
	}

	var out []string
	for _, tok := range doc.Tokens() {
		if w := cleanToken(tok.Text); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func fallbackTokens(s string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '\''
	}) {
		if w := cleanToken(f); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// cleanToken trims surrounding punctuation; the result is empty or starts
// and ends with a letter or digit.
func cleanToken(t string) string {
	return strings.TrimFunc(strings.ToLower(t), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
