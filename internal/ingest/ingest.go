// Package ingest loads exhibitor rosters into orgs. It accepts CSV and
// XLSX files from local paths, HTTP, or FTP, finds the header row, and
// keeps one org per website.
package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/expoforge/scout-cli/internal/model"
)

// Roster column names, normalized. Name and website are required; the
// rest fill in when present.
const (
	colName        = "host company name"
	colWebsite     = "website"
	colDescription = "description"
	colCountry     = "country"
	colSector      = "business-sector"
	colHall        = "hall"
	colDays        = "days of presence"
)

// headerScanLimit bounds how many leading rows may precede the header.
// Expo exports often carry a title line above it.
const headerScanLimit = 10

// Options configures roster loading.
type Options struct {
	// Delimiter is the CSV field separator. Default ';'.
	Delimiter rune
	// Format forces "csv" or "xlsx". Empty sniffs from the source name.
	Format string
	// Sheet selects an XLSX sheet by name. Empty takes the first sheet.
	Sheet string
	// Timeout bounds HTTP and FTP roster downloads. Default 30s.
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Delimiter == 0 {
		o.Delimiter = ';'
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// normalizeHeader matches header cells case- and whitespace-insensitively.
func normalizeHeader(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// builder accumulates orgs row by row. It scans for the header first and
// maps data rows once the column positions are known.
type builder struct {
	cols     map[string]int
	orgs     []model.Org
	seen     map[string]bool
	preamble int
	skipped  int
	dupes    int
}

func newBuilder() *builder {
	return &builder{seen: make(map[string]bool)}
}

func (b *builder) row(record []string) error {
	if b.cols == nil {
		if b.tryHeader(record) {
			return nil
		}
		b.preamble++
		if b.preamble >= headerScanLimit {
			return eris.Errorf("ingest: no header row with HOST COMPANY NAME and WEBSITE in the first %d rows", headerScanLimit)
		}
		return nil
	}
	b.add(record)
	return nil
}

func (b *builder) tryHeader(record []string) bool {
	cols := make(map[string]int, len(record))
	for i, cell := range record {
		norm := normalizeHeader(cell)
		if norm == "" {
			continue
		}
		if _, ok := cols[norm]; !ok {
			cols[norm] = i
		}
	}
	if _, ok := cols[colName]; !ok {
		return false
	}
	if _, ok := cols[colWebsite]; !ok {
		return false
	}
	b.cols = cols
	return true
}

func (b *builder) add(record []string) {
	name := b.cell(record, colName)
	website := b.cell(record, colWebsite)
	if name == "" || website == "" {
		b.skipped++
		return
	}

	key := strings.ToLower(website)
	if b.seen[key] {
		b.dupes++
		return
	}
	b.seen[key] = true

	b.orgs = append(b.orgs, model.Org{
		ID:          fmt.Sprintf("org-%04d", len(b.orgs)+1),
		Name:        name,
		Website:     website,
		Description: b.cell(record, colDescription),
		Sector:      b.cell(record, colSector),
		Country:     b.cell(record, colCountry),
		Hall:        b.cell(record, colHall),
		Days:        b.cell(record, colDays),
	})
}

func (b *builder) cell(record []string, col string) string {
	idx, ok := b.cols[col]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func (b *builder) finish() ([]model.Org, error) {
	if b.cols == nil {
		return nil, eris.New("ingest: no header row with HOST COMPANY NAME and WEBSITE columns")
	}
	if len(b.orgs) == 0 {
		return nil, eris.New("ingest: no usable rows in roster")
	}

	zap.L().Info("roster loaded",
		zap.Int("orgs", len(b.orgs)),
		zap.Int("skipped", b.skipped),
		zap.Int("duplicates", b.dupes),
	)
	return b.orgs, nil
}
