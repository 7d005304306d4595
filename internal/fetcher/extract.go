package fetcher

import (
	"bytes"
	"io"
	"mime"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// allowedContentType reports whether the response looks like a page we can
// turn into text. Empty or unparseable headers pass; extraction copes.
func allowedContentType(header string) bool {
	if strings.TrimSpace(header) == "" {
		return true
	}
	mediatype, _, err := mime.ParseMediaType(header)
	if err != nil {
		return true
	}
	switch mediatype {
	case "text/html", "application/xhtml+xml":
		return true
	}
	return strings.HasPrefix(mediatype, "text/")
}

// decodeBody converts the raw body to UTF-8 using the charset declared in
// the Content-Type header. Unknown or missing charsets fall through
// unchanged.
func decodeBody(body []byte, contentType string) []byte {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return body
	}
	name := params["charset"]
	if name == "" || strings.EqualFold(name, "utf-8") {
		return body
	}
	enc, err := htmlindex.Get(strings.ToLower(name))
	if err != nil {
		return body
	}
	decoded, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(body)))
	if err != nil {
		return body
	}
	return decoded
}

// extractText renders a page body to plain text. Script, style, and page
// chrome elements are dropped, whitespace collapses to single spaces, and
// the result is capped at maxChars runes. An empty page is not an error.
func extractText(body []byte, contentType string, maxChars int) (string, string, error) {
	decoded := decodeBody(body, contentType)

	if isPlainText(contentType) {
		return truncateRunes(collapseSpace(string(decoded)), maxChars), "", nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(decoded))
	if err != nil {
		return "", "", eris.Wrap(err, "fetch: parse html")
	}

	title := collapseSpace(doc.Find("title").First().Text())
	doc.Find("script, style, nav, footer, noscript").Remove()
	text := collapseSpace(doc.Find("body").Text())

	return truncateRunes(text, maxChars), title, nil
}

func isPlainText(contentType string) bool {
	mediatype, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediatype == "text/plain"
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes caps s at n runes without splitting a multibyte character.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
