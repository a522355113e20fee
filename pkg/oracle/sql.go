package oracle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/replcheck/pkg/types"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// RowRef identifies a row by key and, optionally, the value expected in
// one of its columns.
type RowRef struct {
	Table     string
	KeyColumn string
	Key       any

	// ValueColumn is compared against Value when set
	ValueColumn string
	Value       any
}

func (r RowRef) String() string {
	if r.ValueColumn == "" {
		return fmt.Sprintf("%s(%s=%v)", r.Table, r.KeyColumn, r.Key)
	}
	return fmt.Sprintf("%s(%s=%v).%s=%v", r.Table, r.KeyColumn, r.Key, r.ValueColumn, r.Value)
}

// Filter selects rows whose Column starts with Prefix
type Filter struct {
	Table  string
	Column string
	Prefix string
}

func (f Filter) String() string {
	return fmt.Sprintf("%s(%s LIKE %s%%)", f.Table, f.Column, f.Prefix)
}

func selectRow(r RowRef) string {
	column := r.ValueColumn
	if column == "" {
		column = r.KeyColumn
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 LIMIT 1",
		pq.QuoteIdentifier(column), pq.QuoteIdentifier(r.Table), pq.QuoteIdentifier(r.KeyColumn))
}

func countRows(table string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", pq.QuoteIdentifier(table))
}

func countMatching(f Filter) (string, string) {
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s LIKE $1",
		pq.QuoteIdentifier(f.Table), pq.QuoteIdentifier(f.Column))
	return stmt, escapeLike(f.Prefix) + "%"
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// InsertProbe renders the INSERT statement writing the probe row for key
func InsertProbe(p types.Probe, key string) (string, []any) {
	extra := make([]string, 0, len(p.Columns))
	for c := range p.Columns {
		extra = append(extra, c)
	}
	sort.Strings(extra)

	columns := []string{pq.QuoteIdentifier(p.KeyColumn)}
	placeholders := []string{"$1"}
	args := []any{key}
	for i, c := range extra {
		columns = append(columns, pq.QuoteIdentifier(c))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		args = append(args, p.Render(c, key))
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pq.QuoteIdentifier(p.Table), strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	return stmt, args
}

// ProbeRef returns the RowRef that finds the probe row for key
func ProbeRef(p types.Probe, key string) RowRef {
	return RowRef{Table: p.Table, KeyColumn: p.KeyColumn, Key: key}
}

// NewKey returns a unique probe key tagged with purpose
func NewKey(purpose string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "replcheck_" + purpose + "_" + id[:12]
}
