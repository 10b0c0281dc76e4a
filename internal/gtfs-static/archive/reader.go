// Package archive reads a zipped feed export and yields each member as a lazy
// sequence of header-keyed rows.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/transit-schedules-data/internal/gtfs-static/feederr"
)

// Archive is an opened feed container.
type Archive struct {
	source string
	reader *zip.Reader
	closer io.Closer
}

// FromBytes opens an archive held in memory.
func FromBytes(content []byte) (*Archive, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, &feederr.ArchiveError{Err: err}
	}
	return &Archive{reader: reader}, nil
}

// Open opens an archive on disk. Close releases the file.
func Open(path string) (*Archive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("opening archive %s: %w", path, err)
		}
		return nil, &feederr.ArchiveError{Source: path, Err: err}
	}
	return &Archive{source: path, reader: &rc.Reader, closer: rc}, nil
}

func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// Source is the path the archive was opened from, empty for in-memory archives.
func (a *Archive) Source() string {
	return a.source
}

// Resources yields every file member in archive order. Directory entries are
// skipped. Opening a member is deferred until its rows are iterated.
func (a *Archive) Resources() iter.Seq2[*Resource, error] {
	return func(yield func(*Resource, error) bool) {
		for _, file := range a.reader.File {
			if file.FileInfo().IsDir() {
				continue
			}
			if !yield(&Resource{file: file}, nil) {
				return
			}
		}
	}
}

// Resource is one tabular member of the archive.
type Resource struct {
	file *zip.File
}

func (r *Resource) Name() string {
	return r.file.Name
}

func (r *Resource) Size() uint64 {
	return r.file.UncompressedSize64
}

// Rows decodes the member lazily. The first record is the header; rows whose
// cells are all blank are skipped. A decoding failure is yielded once as a
// *feederr.ResourceError and ends the sequence.
func (r *Resource) Rows() iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		rc, err := r.file.Open()
		if err != nil {
			yield(Row{}, &feederr.ResourceError{Resource: r.Name(), Err: err})
			return
		}
		defer rc.Close()

		reader := bomAwareCSVReader(rc)
		reader.FieldsPerRecord = -1 // Variable number of fields
		reader.TrimLeadingSpace = true

		header, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			yield(Row{}, &feederr.ResourceError{Resource: r.Name(), Line: 1, Err: err})
			return
		}
		columns := make(map[string]int, len(header))
		for i, h := range header {
			if !utf8.ValidString(h) {
				yield(Row{}, &feederr.ResourceError{Resource: r.Name(), Line: 1, Err: errors.New("header is not valid UTF-8")})
				return
			}
			columns[strings.TrimSpace(h)] = i
		}

		for {
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				var line int
				var pe *csv.ParseError
				if errors.As(err, &pe) {
					line = pe.Line
				}
				yield(Row{}, &feederr.ResourceError{Resource: r.Name(), Line: line, Err: err})
				return
			}
			line, _ := reader.FieldPos(0)
			if blank(record) {
				continue
			}
			for _, cell := range record {
				if !utf8.ValidString(cell) {
					yield(Row{}, &feederr.ResourceError{Resource: r.Name(), Line: line, Err: errors.New("row is not valid UTF-8")})
					return
				}
			}
			if !yield(Row{columns: columns, cells: record, line: line}, nil) {
				return
			}
		}
	}
}

// Row maps column headers to the text values of one record.
type Row struct {
	columns map[string]int
	cells   []string
	line    int
}

// Get returns the trimmed value of column, or "" when the column or cell is absent.
func (r Row) Get(column string) string {
	if i, ok := r.columns[column]; ok && i < len(r.cells) {
		return strings.TrimSpace(r.cells[i])
	}
	return ""
}

// Has reports whether the header declares column.
func (r Row) Has(column string) bool {
	_, ok := r.columns[column]
	return ok
}

// Line is the 1-based line number of the record in its member.
func (r Row) Line() int {
	return r.line
}

// Map copies the row into a plain header -> value map.
func (r Row) Map() map[string]string {
	m := make(map[string]string, len(r.columns))
	for column := range r.columns {
		m[column] = r.Get(column)
	}
	return m
}

func blank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// bomAwareCSVReader strips a UTF-8/UTF-16 byte order mark, decoding UTF-16
// members to UTF-8. Without a BOM the bytes pass through untouched.
func bomAwareCSVReader(reader io.Reader) *csv.Reader {
	var transformer = unicode.BOMOverride(encoding.Nop.NewDecoder())
	return csv.NewReader(transform.NewReader(reader, transformer))
}
