// Package statement reads the output of the PDF table-extraction primitive.
//
// Two encodings are accepted:
//
//	{"pages": [{"number": 1, "text": "...", "tables": [[["cell", ...], ...], ...]}]}
//	[[[["cell", ...], ...], ...], ...]   // pages → tables → rows → cells
//
// Cells may be strings, numbers or null.
package statement

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/portfolio-tracker/internal/domain"
)

// RawTable is one extracted table. It is consumed once and discarded.
type RawTable struct {
	Page     int        // 1-based page number
	Index    int        // 0-based table position on the page
	Rows     [][]string // cells in extraction order (right-to-left for Hebrew tables)
	PageText string     // free text of the page, used for heading detection
}

// Page is one page of extraction output.
type Page struct {
	Number int          `json:"number"`
	Text   string       `json:"text,omitempty"`
	Tables [][][]string `json:"tables"`
}

// Document is the whole extraction output of one statement.
type Document struct {
	Pages []Page `json:"pages"`
}

// cell accepts a string, a number or null.
type cell string

func (c *cell) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*c = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = cell(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("cell: %w", err)
		}
		*c = cell(n.String())
	}
	return nil
}

type rawPage struct {
	Number *int       `json:"number"`
	Text   string     `json:"text"`
	Tables [][][]cell `json:"tables"`
}

// Decode parses extraction output. Anything that cannot be read as either
// encoding, or that has no pages at all, is ErrExtractionUnreadable.
func Decode(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("statement.Decode: empty input: %w", domain.ErrExtractionUnreadable)
	}

	var pages []rawPage
	switch trimmed[0] {
	case '{':
		var doc struct {
			Pages []rawPage `json:"pages"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("statement.Decode: %v: %w", err, domain.ErrExtractionUnreadable)
		}
		pages = doc.Pages
	case '[':
		var nested [][][][]cell
		if err := json.Unmarshal(trimmed, &nested); err != nil {
			return nil, fmt.Errorf("statement.Decode: %v: %w", err, domain.ErrExtractionUnreadable)
		}
		for _, tables := range nested {
			pages = append(pages, rawPage{Tables: tables})
		}
	default:
		return nil, fmt.Errorf("statement.Decode: not a JSON document: %w", domain.ErrExtractionUnreadable)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("statement.Decode: no pages: %w", domain.ErrExtractionUnreadable)
	}

	doc := &Document{Pages: make([]Page, 0, len(pages))}
	for i, rp := range pages {
		p := Page{Number: i + 1, Text: rp.Text}
		if rp.Number != nil && *rp.Number > 0 {
			p.Number = *rp.Number
		}
		for _, t := range rp.Tables {
			rows := make([][]string, 0, len(t))
			for _, r := range t {
				row := make([]string, len(r))
				for k, c := range r {
					row[k] = string(c)
				}
				rows = append(rows, row)
			}
			p.Tables = append(p.Tables, rows)
		}
		doc.Pages = append(doc.Pages, p)
	}
	return doc, nil
}

// Tables flattens the document into RawTables in page order.
func (d *Document) Tables() []RawTable {
	var out []RawTable
	for _, p := range d.Pages {
		for i, rows := range p.Tables {
			out = append(out, RawTable{
				Page:     p.Number,
				Index:    i,
				Rows:     rows,
				PageText: p.Text,
			})
		}
	}
	return out
}

// Encode writes the document in its object form.
func (d *Document) Encode() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// Checksum is the hex SHA-256 of the raw extraction bytes. It serves as the
// default statement ID so that re-uploading the same file replaces itself.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Text joins a row's cells for logging and heading search.
func Text(row []string) string {
	return strings.Join(row, " ")
}
