package status

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/projtrack/internal/model"
)

// MentionText joins a mention's title, snippet and raw text into the string
// the patterns are matched against.
func MentionText(m model.MentionRecord) string {
	parts := []string{m.Title, m.Snippet, model.Deref(m.RawText)}
	var b strings.Builder
	for _, p := range parts {
		p = stripMarkup(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" \n ")
		}
		b.WriteString(p)
	}
	return b.String()
}

// stripMarkup removes residual HTML left by feed scrapers.
func stripMarkup(s string) string {
	if !strings.ContainsRune(s, '<') {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
