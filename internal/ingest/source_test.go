package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRoster(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_LocalCSV(t *testing.T) {
	path := writeRoster(t, "roster.csv", sampleCSV)

	orgs, err := Load(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, orgs, 2)
	assert.Equal(t, "Acme Numérisation", orgs[0].Name)
}

func TestLoad_LocalXLSX(t *testing.T) {
	data := xlsxBytes(t, sheetFixture{
		name: "Exposants",
		rows: [][]string{
			{"HOST COMPANY NAME", "WEBSITE"},
			{"Acme", "https://acme.example"},
		},
	})
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	orgs, err := Load(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, "Acme", orgs[0].Name)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.csv"), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open roster")
}

func TestLoad_UnknownFormat(t *testing.T) {
	path := writeRoster(t, "roster.csv", sampleCSV)

	_, err := Load(context.Background(), path, Options{Format: "pdf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown format "pdf"`)
}

func TestLoad_FormatOverrideBeatsExtension(t *testing.T) {
	path := writeRoster(t, "roster.data", sampleCSV)

	orgs, err := Load(context.Background(), path, Options{Format: "csv"})
	require.NoError(t, err)
	assert.Len(t, orgs, 2)
}

func TestLoad_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/roster.csv", r.URL.Path)
		fmt.Fprint(w, sampleCSV)
	}))
	t.Cleanup(srv.Close)

	orgs, err := Load(context.Background(), srv.URL+"/roster.csv", Options{})
	require.NoError(t, err)
	assert.Len(t, orgs, 2)
}

func TestLoad_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := Load(context.Background(), srv.URL+"/roster.csv", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestLoad_FTP(t *testing.T) {
	srv := newMiniFTPServer(t, map[string]string{
		"/pub/roster.csv": sampleCSV,
	})
	defer srv.close()

	orgs, err := Load(context.Background(), fmt.Sprintf("ftp://%s/pub/roster.csv", srv.addr()), Options{Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Len(t, orgs, 2)
}

func TestLoad_FTPConnectionRefused(t *testing.T) {
	_, err := Load(context.Background(), "ftp://127.0.0.1:19999/roster.csv", Options{Timeout: time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp dial")
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"roster.csv", formatCSV},
		{"roster.xlsx", formatXLSX},
		{"ROSTER.XLSX", formatXLSX},
		{"/data/exposants.xlsx", formatXLSX},
		{"https://example.com/dl/roster.xlsx?token=abc", formatXLSX},
		{"ftp://ftp.example.com/pub/roster.csv", formatCSV},
		{"roster", formatCSV},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectFormat(tt.src), tt.src)
	}
}

func TestDecodeText(t *testing.T) {
	// 0xE9 is é in Windows-1252.
	decoded := decodeText([]byte("Num\xe9risation"))
	assert.Equal(t, "Numérisation", string(decoded))

	utf8Input := []byte("Numérisation")
	assert.Equal(t, utf8Input, decodeText(utf8Input))
}

func TestParseFTPURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPath string
		wantErr  bool
	}{
		{
			name:     "default port added",
			url:      "ftp://ftp.example.com/pub/roster.csv",
			wantHost: "ftp.example.com:21",
			wantPath: "/pub/roster.csv",
		},
		{
			name:     "explicit port kept",
			url:      "ftp://ftp.example.com:2121/roster.csv",
			wantHost: "ftp.example.com:2121",
			wantPath: "/roster.csv",
		},
		{
			name:    "http scheme rejected",
			url:     "http://example.com/roster.csv",
			wantErr: true,
		},
		{
			name:    "empty path rejected",
			url:     "ftp://ftp.example.com",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, path, err := parseFTPURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

// miniFTPServer speaks just enough FTP to serve Load's download path.
type miniFTPServer struct {
	listener net.Listener
	fileData map[string]string
	wg       sync.WaitGroup
}

func newMiniFTPServer(t *testing.T, files map[string]string) *miniFTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &miniFTPServer{listener: ln, fileData: files}
	s.wg.Add(1)
	go s.serve()
	return s
}

func (s *miniFTPServer) addr() string {
	return s.listener.Addr().String()
}

func (s *miniFTPServer) close() {
	s.listener.Close() //nolint:errcheck
	s.wg.Wait()
}

func (s *miniFTPServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *miniFTPServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close() //nolint:errcheck

	conn.SetDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck

	writer := bufio.NewWriter(conn)
	reader := bufio.NewReader(conn)

	fmt.Fprintf(writer, "220 Mini FTP ready\r\n") //nolint:errcheck
	writer.Flush()                                //nolint:errcheck

	var dataListener net.Listener

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
		cmd := strings.ToUpper(parts[0])
		arg := ""
		if len(parts) > 1 {
			arg = parts[1]
		}

		switch cmd {
		case "USER", "PASS":
			fmt.Fprintf(writer, "230 Logged in\r\n") //nolint:errcheck
			writer.Flush()                           //nolint:errcheck

		case "FEAT":
			fmt.Fprintf(writer, "211-Features:\r\n") //nolint:errcheck
			fmt.Fprintf(writer, " UTF8\r\n")         //nolint:errcheck
			fmt.Fprintf(writer, "211 End\r\n")       //nolint:errcheck
			writer.Flush()                           //nolint:errcheck

		case "TYPE", "OPTS":
			fmt.Fprintf(writer, "200 OK\r\n") //nolint:errcheck
			writer.Flush()                    //nolint:errcheck

		case "EPSV":
			var lnErr error
			dataListener, lnErr = net.Listen("tcp", "127.0.0.1:0")
			if lnErr != nil {
				fmt.Fprintf(writer, "425 Can't open data connection\r\n") //nolint:errcheck
				writer.Flush()                                            //nolint:errcheck
				continue
			}
			port := dataListener.Addr().(*net.TCPAddr).Port
			fmt.Fprintf(writer, "229 Entering Extended Passive Mode (|||%d|)\r\n", port) //nolint:errcheck
			writer.Flush()                                                               //nolint:errcheck

		case "PASV":
			var lnErr error
			dataListener, lnErr = net.Listen("tcp", "127.0.0.1:0")
			if lnErr != nil {
				fmt.Fprintf(writer, "425 Can't open data connection\r\n") //nolint:errcheck
				writer.Flush()                                            //nolint:errcheck
				continue
			}
			addr := dataListener.Addr().(*net.TCPAddr)
			fmt.Fprintf(writer, "227 Entering Passive Mode (127,0,0,1,%d,%d)\r\n", addr.Port/256, addr.Port%256) //nolint:errcheck
			writer.Flush()                                                                                       //nolint:errcheck

		case "RETR":
			if dataListener == nil {
				fmt.Fprintf(writer, "425 Use PASV first\r\n") //nolint:errcheck
				writer.Flush()                                //nolint:errcheck
				continue
			}
			content, ok := s.fileData[arg]
			if !ok {
				fmt.Fprintf(writer, "550 File not found\r\n") //nolint:errcheck
				writer.Flush()                                //nolint:errcheck
				dataListener.Close()                          //nolint:errcheck
				dataListener = nil
				continue
			}
			fmt.Fprintf(writer, "150 Opening data connection\r\n") //nolint:errcheck
			writer.Flush()                                         //nolint:errcheck

			dataConn, acceptErr := dataListener.Accept()
			if acceptErr != nil {
				fmt.Fprintf(writer, "425 Can't open data connection\r\n") //nolint:errcheck
				writer.Flush()                                            //nolint:errcheck
				continue
			}
			io.WriteString(dataConn, content) //nolint:errcheck
			dataConn.Close()                  //nolint:errcheck
			dataListener.Close()              //nolint:errcheck
			dataListener = nil

			fmt.Fprintf(writer, "226 Transfer complete\r\n") //nolint:errcheck
			writer.Flush()                                   //nolint:errcheck

		case "QUIT":
			fmt.Fprintf(writer, "221 Goodbye\r\n") //nolint:errcheck
			writer.Flush()                         //nolint:errcheck
			return

		default:
			fmt.Fprintf(writer, "502 Not implemented\r\n") //nolint:errcheck
			writer.Flush()                                 //nolint:errcheck
		}
	}
}
