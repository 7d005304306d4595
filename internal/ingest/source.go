package ingest

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/expoforge/scout-cli/internal/model"
)

const (
	formatCSV  = "csv"
	formatXLSX = "xlsx"
)

// Load reads a roster from a local path, an http(s) URL, or an ftp URL,
// and parses it into orgs.
func Load(ctx context.Context, src string, opts Options) ([]model.Org, error) {
	opts = opts.withDefaults()

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = detectFormat(src)
	}
	if format != formatCSV && format != formatXLSX {
		return nil, eris.Errorf("ingest: unknown format %q", opts.Format)
	}

	rc, err := open(ctx, src, opts.Timeout)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read roster")
	}

	if format == formatXLSX {
		return ParseXLSX(data, opts)
	}
	return ParseCSV(ctx, bytes.NewReader(decodeText(data)), opts)
}

// detectFormat sniffs the roster format from the source's extension.
func detectFormat(src string) string {
	path := src
	if u, err := url.Parse(src); err == nil && u.Path != "" {
		path = u.Path
	}
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return formatXLSX
	}
	return formatCSV
}

// decodeText converts legacy single-byte text to UTF-8. Expo roster
// exports are frequently Windows-1252.
func decodeText(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	return decoded
}

func open(ctx context.Context, src string, timeout time.Duration) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return openHTTP(ctx, src, timeout)
	case strings.HasPrefix(src, "ftp://"):
		return openFTP(ctx, src, timeout)
	default:
		f, err := os.Open(src)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: open roster")
		}
		return f, nil
	}
}

func openHTTP(ctx context.Context, src string, timeout time.Duration) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: build roster request")
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: download roster")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close() //nolint:errcheck
		return nil, eris.Errorf("ingest: download roster: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func openFTP(ctx context.Context, src string, timeout time.Duration) (io.ReadCloser, error) {
	host, path, err := parseFTPURL(src)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("ftp: connecting", zap.String("host", host), zap.String("path", path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "ingest: ftp dial")
	}

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "ingest: ftp login")
	}

	resp, err := conn.Retr(path)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "ingest: ftp retrieve")
	}

	return &ftpReader{resp: resp, conn: conn}, nil
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "ingest: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("ingest: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" {
		return "", "", eris.New("ingest: empty path in ftp url")
	}

	return host, path, nil
}

// ftpReader ties the FTP data stream to its control connection so closing
// the reader also disconnects from the server.
type ftpReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "ingest: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "ingest: quit ftp connection")
	}
	return nil
}
