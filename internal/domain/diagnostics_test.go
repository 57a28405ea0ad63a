package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnostics_SkipTable(t *testing.T) {
	tests := []struct {
		name            string
		reason          SkipReason
		rows            [][]string
		wantRows        []int
		wantUnclassified int
		wantUnparsable  int
	}{
		{
			name:            "unclassified table keeps every row",
			reason:          ReasonClassificationAmbiguous,
			rows:            [][]string{{"title"}, {"a", "b"}, {" ", ""}, {"c"}},
			wantRows:        []int{0, 1, 3},
			wantUnclassified: 1,
		},
		{
			name:            "empty table is one item",
			reason:          ReasonClassificationAmbiguous,
			rows:            nil,
			wantRows:        []int{-1},
			wantUnclassified: 1,
		},
		{
			name:           "row reasons count per row",
			reason:         ReasonMissingAsOfDate,
			rows:           [][]string{{"a"}, {"b"}},
			wantRows:       []int{0, 1},
			wantUnparsable: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDiagnostics()
			d.SkipTable(SkippedItem{Page: 2, Table: 1, Reason: tt.reason, Detail: "why"}, tt.rows)

			require.Len(t, d.Skipped, len(tt.wantRows))
			for i, row := range tt.wantRows {
				item := d.Skipped[i]
				assert.Equal(t, row, item.Row)
				assert.Equal(t, 2, item.Page)
				assert.Equal(t, 1, item.Table)
				assert.Equal(t, tt.reason, item.Reason)
				assert.Equal(t, "why", item.Detail)
				if row >= 0 {
					assert.Equal(t, tt.rows[row], item.Raw)
				} else {
					assert.Empty(t, item.Raw)
				}
			}
			assert.Equal(t, tt.wantUnclassified, d.TablesUnclassified)
			assert.Equal(t, tt.wantUnparsable, d.RowsSkippedUnparsable)
		})
	}
}

func TestDiagnostics_SkipCopiesRaw(t *testing.T) {
	d := NewDiagnostics()
	raw := []string{"x"}
	d.Skip(SkippedItem{Row: 3, Reason: ReasonUnresolvedSecurity, Raw: raw})
	raw[0] = "changed"

	assert.Equal(t, []string{"x"}, d.Skipped[0].Raw)
	assert.Equal(t, 1, d.RowsSkippedUnmatched)
}
