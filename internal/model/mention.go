// Package model defines the records exchanged between the mention store,
// the card extractor, the entity resolver and the status engine.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"
)

// MentionRecord is a single news article's reference to a project. It is
// owned by the mention store and immutable once stored.
type MentionRecord struct {
	MentionID   string     `json:"mention_id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	RawText     *string    `json:"raw_text,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	URL         string     `json:"url"`
}

// trackingParams are query parameters dropped during URL canonicalization.
var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"mc_cid": true,
	"mc_eid": true,
	"ref":    true,
	"cmpid":  true,
}

// CanonicalURL normalizes a URL so that trivially different links to the
// same article compare equal. Unparseable input is returned trimmed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		lk := strings.ToLower(key)
		if strings.HasPrefix(lk, "utm_") || trackingParams[lk] {
			q.Del(key)
		}
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for j, v := range vals {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	u.RawQuery = b.String()
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""

	return u.String()
}

// MentionID derives the stable mention identifier from an article URL: the
// first 16 bytes of the SHA-256 of its canonical form, hex encoded.
func MentionID(rawURL string) string {
	sum := sha256.Sum256([]byte(CanonicalURL(rawURL)))
	return hex.EncodeToString(sum[:16])
}
