// Package tabular decodes uploaded CSV and XLSX files into core.Table values.
//
// Only the first worksheet of a workbook is read. The first record of a CSV
// file, or the first row of the sheet, is the header.
package tabular

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/enrolment/internal/core"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyFile         = errors.New("empty file")
	// ErrMalformed wraps every parse failure of an accepted format.
	ErrMalformed = errors.New("malformed file")
)

// Accepted file extensions.
const (
	ExtCSV  = ".csv"
	ExtXLSX = ".xlsx"
)

// Extensions returns the accepted extensions.
func Extensions() []string {
	return []string{ExtCSV, ExtXLSX}
}

// Allowed reports whether name has an accepted extension.
func Allowed(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ExtCSV, ExtXLSX:
		return true
	}
	return false
}

// Decode reads r according to the extension of name.
func Decode(name string, r io.Reader) (core.Table, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ExtCSV:
		return decodeCSV(name, r)
	case ExtXLSX:
		return decodeXLSX(name, r)
	}
	return core.Table{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

func decodeCSV(name string, r io.Reader) (core.Table, error) {
	cr := csv.NewReader(NewCleanReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return core.Table{}, fmt.Errorf("%w: %q", ErrEmptyFile, name)
	}
	if err != nil {
		return core.Table{}, fmt.Errorf("invalid csv in %q: %w: %w", name, ErrMalformed, err)
	}

	t := core.Table{Name: name, Columns: header}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return core.Table{}, fmt.Errorf("invalid csv in %q: %w: %w", name, ErrMalformed, err)
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

func decodeXLSX(name string, r io.Reader) (core.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return core.Table{}, fmt.Errorf("open workbook %q: %w: %w", name, ErrMalformed, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return core.Table{}, fmt.Errorf("%w: %q has no sheets", ErrEmptyFile, name)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return core.Table{}, fmt.Errorf("read sheet %q of %q: %w: %w", sheets[0], name, ErrMalformed, err)
	}
	if len(rows) == 0 {
		return core.Table{}, fmt.Errorf("%w: %q", ErrEmptyFile, name)
	}

	return core.Table{Name: name, Columns: rows[0], Rows: rows[1:]}, nil
}

// Source is one file waiting to be decoded.
type Source struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// DecodeAll decodes sources concurrently. The result keeps input order.
func DecodeAll(ctx context.Context, sources []Source) ([]core.Table, error) {
	tables := make([]core.Table, len(sources))
	g, ctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rc, err := src.Open()
			if err != nil {
				return fmt.Errorf("open %q: %w", src.Name, err)
			}
			defer rc.Close()

			t, err := Decode(src.Name, rc)
			if err != nil {
				return err
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}
