package statement

import (
	"regexp"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/portfolio-tracker/internal/cells"
)

var dateToken = regexp.MustCompile(`\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4}`)

// asOfWindow is how far after an as-of phrase a date may appear, in runes.
const asOfWindow = 24

// DetectAsOfDate finds the statement's snapshot date: the first valid date
// that follows one of phrases in page text or in a table cell. Pages are
// searched in order, so the header of the first page wins.
func DetectAsOfDate(doc *Document, phrases []string) (civil.Date, bool) {
	if doc == nil {
		return civil.Date{}, false
	}
	for _, p := range doc.Pages {
		if d, ok := findAfterPhrase(p.Text, phrases); ok {
			return d, true
		}
		for _, t := range p.Tables {
			for _, row := range t {
				if d, ok := findAfterPhrase(Text(row), phrases); ok {
					return d, true
				}
			}
		}
	}
	return civil.Date{}, false
}

func findAfterPhrase(text string, phrases []string) (civil.Date, bool) {
	text = cells.Clean(text)
	if text == "" {
		return civil.Date{}, false
	}
	for _, phrase := range phrases {
		phrase = cells.Clean(phrase)
		if phrase == "" {
			continue
		}
		rest := text
		for {
			i := strings.Index(rest, phrase)
			if i < 0 {
				break
			}
			after := []rune(rest[i+len(phrase):])
			if len(after) > asOfWindow {
				after = after[:asOfWindow]
			}
			if tok := dateToken.FindString(string(after)); tok != "" {
				if v := cells.AsDate(tok); v.Kind == cells.Date {
					return v.Date, true
				}
			}
			rest = rest[i+len(phrase):]
		}
	}
	return civil.Date{}, false
}
