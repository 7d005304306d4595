package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/expoforge/scout-cli/internal/model"
)

// ParseCSV reads a roster from CSV. The header row is located within the
// first rows (title lines above it are tolerated), rows without a name and
// website are skipped, and duplicate websites keep the first occurrence.
func ParseCSV(ctx context.Context, r io.Reader, opts Options) ([]model.Org, error) {
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows, errs := streamRows(ctx, r, opts.Delimiter)
	b := newBuilder()
	for record := range rows {
		if err := b.row(record); err != nil {
			return nil, err
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	return b.finish()
}

// streamRows reads CSV records onto a channel so parsing stays responsive
// to cancellation. Both channels close when the reader is exhausted.
func streamRows(ctx context.Context, r io.Reader, delimiter rune) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.Comma = delimiter
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "ingest: cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "ingest: read csv row")
				return
			}

			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "ingest: cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
