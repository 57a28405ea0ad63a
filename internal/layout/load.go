package layout

import (
	"fmt"
	"os"

	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"gopkg.in/yaml.v2"
)

// file is the on-disk shape of a layout override.
type file struct {
	Version     string              `yaml:"version"`
	Headings    Headings            `yaml:"headings"`
	AsOfPhrases []string            `yaml:"as_of_phrases"`
	Layouts     map[string][]string `yaml:"layouts"`
	Lexicon     map[string][]string `yaml:"lexicon"`
	Scoring     *Scoring            `yaml:"scoring"`
}

// Load reads a YAML override from path and applies it on top of Default.
// Sections missing from the file keep their built-in values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("layout.Load: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	var f file
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("layout.Parse: decoding yaml: %w", err)
	}

	c := Default()
	if f.Version != "" {
		c.Version = f.Version
	}
	if len(f.Headings.Holdings) > 0 {
		c.Headings.Holdings = f.Headings.Holdings
	}
	if len(f.Headings.Transactions) > 0 {
		c.Headings.Transactions = f.Headings.Transactions
	}
	if len(f.AsOfPhrases) > 0 {
		c.AsOfPhrases = f.AsOfPhrases
	}
	for name, fields := range f.Layouts {
		cols := make(Columns, len(fields))
		for i, x := range fields {
			cols[i] = Field(x)
		}
		switch name {
		case "transactions":
			c.Transactions = cols
		case "holdings":
			c.Holdings = cols
		default:
			return nil, fmt.Errorf("layout.Parse: unknown layout %q", name)
		}
	}
	if len(f.Lexicon) > 0 {
		c.Lexicon = make(map[domain.TransactionType][]string, len(f.Lexicon))
		for typ, tokens := range f.Lexicon {
			c.Lexicon[domain.TransactionType(typ)] = tokens
		}
	}
	if f.Scoring != nil {
		c.Scoring = *f.Scoring
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("layout.Parse: %w", err)
	}
	c.index()
	return c, nil
}
