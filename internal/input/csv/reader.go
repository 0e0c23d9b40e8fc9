// Package csv reads input rows from a CSV source one record at a time.
//
// The first record is the header. Header cells are trimmed, stripped of a
// byte-order mark and renamed through parser.options.header_map; the
// resulting names are the column names the Record Mapper resolves against
// the entity schema.
//
// Options (parser.options):
//   - comma (string; first rune used; default ',')
//   - trim_space (bool; default true) trims every value
//   - lazy_quotes (bool; default false) → csv.Reader.LazyQuotes
//   - encoding (string; default utf-8) utf-8, windows-1252, iso-8859-1 or
//     utf-16. UTF-8 input may start with a UTF-8 or UTF-16 BOM.
//   - header_map (object) source column → field path
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"dataloader/internal/config"
	"dataloader/internal/datasource"
	"dataloader/internal/record"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const utf8BOM = "\uFEFF"

// Reader is a single-pass row stream over CSV input. It is not safe for
// concurrent use.
type Reader struct {
	src    io.Closer
	cr     *csv.Reader
	source string
	header []string
	trim   bool
	n      int
}

// Open opens ds and reads the header. Rows carry ds.Name() as their source.
func Open(ctx context.Context, ds datasource.Source, opt config.Options) (*Reader, error) {
	rc, err := ds.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	r, err := NewReader(rc, ds.Name(), opt)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return r, nil
}

// NewReader decodes src according to opt and reads the header. Close closes
// src.
func NewReader(src io.ReadCloser, source string, opt config.Options) (*Reader, error) {
	enc, err := Encoding(opt.String("encoding", "utf-8"))
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(transform.NewReader(src, enc.NewDecoder()))
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)

	hdr, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: empty input, no header", source)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", source, err)
	}
	header, err := normalizeHeader(hdr, opt.StringMap("header_map"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	// Data rows must match the header width.
	cr.FieldsPerRecord = len(header)

	return &Reader{
		src:    src,
		cr:     cr,
		source: source,
		header: header,
		trim:   opt.Bool("trim_space", true),
	}, nil
}

// Header returns the normalized column names.
func (r *Reader) Header() []string { return append([]string(nil), r.header...) }

// Next returns the next data row. A malformed record yields a
// *record.ReadError and the reader moves on; io.EOF ends the input.
func (r *Reader) Next() (record.Row, error) {
	rec, err := r.cr.Read()
	if errors.Is(err, io.EOF) {
		return record.Row{}, io.EOF
	}
	r.n++
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return record.Row{}, &record.ReadError{Number: r.n, Source: r.source, Err: pe.Err}
		}
		return record.Row{}, fmt.Errorf("%s: row %d: %w", r.source, r.n, err)
	}
	if r.trim {
		for i, v := range rec {
			rec[i] = strings.TrimSpace(v)
		}
	}
	return record.NewRow(r.n, r.source, r.header, rec), nil
}

// Close closes the underlying source.
func (r *Reader) Close() error { return r.src.Close() }

func normalizeHeader(hdr []string, hm map[string]string) ([]string, error) {
	out := make([]string, len(hdr))
	seen := make(map[string]int, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		h = strings.TrimSpace(h)
		if mapped, ok := hm[h]; ok {
			h = mapped
		}
		if h == "" {
			return nil, fmt.Errorf("header column %d is empty", i+1)
		}
		k := strings.ToLower(h)
		if j, dup := seen[k]; dup {
			return nil, fmt.Errorf("duplicate header column %q (columns %d and %d)", h, j+1, i+1)
		}
		seen[k] = i
		out[i] = h
	}
	return out, nil
}

// Encoding returns the decoder set for a configured encoding name.
func Encoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		// Honors a leading UTF-8 or UTF-16 BOM, otherwise reads UTF-8.
		return bomSniffer{}, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1, nil
	case "utf-16", "utf16":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", name)
}

type bomSniffer struct{}

func (bomSniffer) NewDecoder() *encoding.Decoder {
	return &encoding.Decoder{Transformer: unicode.BOMOverride(unicode.UTF8.NewDecoder())}
}

func (bomSniffer) NewEncoder() *encoding.Encoder { return unicode.UTF8.NewEncoder() }
