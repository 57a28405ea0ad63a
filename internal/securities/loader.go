package securities

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dvloznov/portfolio-tracker/internal/domain"
)

// csvColumns are the accepted header names, lower-cased.
var csvColumns = map[string]string{
	"security_number": "security_number",
	"number":          "security_number",
	"symbol":          "symbol",
	"company_name":    "company_name",
	"name":            "company_name",
	"index_name":      "index_name",
	"index":           "index_name",
}

// ReadCSV reads catalog entries from CSV with a header row. security_number
// is required; the other columns are optional.
func ReadCSV(r io.Reader) ([]domain.Security, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("ReadCSV: reading header: %w", err)
	}
	pos := make(map[string]int)
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if col, ok := csvColumns[h]; ok {
			pos[col] = i
		}
	}
	if _, ok := pos["security_number"]; !ok {
		return nil, fmt.Errorf("ReadCSV: header has no security_number column")
	}

	get := func(record []string, col string) string {
		i, ok := pos[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var out []domain.Security
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("ReadCSV: line %d: %w", line, err)
		}
		s := domain.Security{
			SecurityNumber: get(record, "security_number"),
			Symbol:         get(record, "symbol"),
			CompanyName:    get(record, "company_name"),
			IndexName:      get(record, "index_name"),
		}
		if s.SecurityNumber == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// ReadJSON reads a JSON array of catalog entries.
func ReadJSON(r io.Reader) ([]domain.Security, error) {
	var out []domain.Security
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("ReadJSON: decoding: %w", err)
	}
	return out, nil
}

// LoadFile builds a Catalog from a .csv or .json file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadFile: opening %s: %w", path, err)
	}
	defer f.Close()

	var entries []domain.Security
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		entries, err = ReadCSV(f)
	case ".json":
		entries, err = ReadJSON(f)
	default:
		return nil, fmt.Errorf("LoadFile: unsupported catalog format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("LoadFile: %s: %w", path, err)
	}
	return NewCatalog(entries), nil
}
