package cache

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// NormalizeKey derives the cache key for a website URL. The scheme and
// host are lower-cased, a missing scheme defaults to https, default ports
// and trailing slashes are stripped, and the fragment is discarded. Path
// and query keep their case. Two spellings of the same page always map to
// the same key.
func NormalizeKey(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", eris.New("cache: empty url")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", eris.Wrapf(err, "cache: parse url %q", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", eris.Errorf("cache: unsupported scheme %q", u.Scheme)
	}
	if u.User != nil {
		return "", eris.Errorf("cache: url carries credentials: %q", raw)
	}

	host := strings.ToLower(u.Host)
	switch scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}
	if host == "" {
		return "", eris.Errorf("cache: url has no host: %q", raw)
	}

	path := strings.TrimSuffix(u.Path, "/")

	key := scheme + "://" + host + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key, nil
}
