package types

import "strings"

// KeyPlaceholder is replaced by the generated key in Probe column templates
const KeyPlaceholder = "{key}"

// Probe describes the throwaway row the harness writes to test writability
// and to measure replication delay. Columns maps extra column names to value
// templates in which {key} is replaced by the generated key.
type Probe struct {
	Table     string
	KeyColumn string
	Columns   map[string]string
}

// DefaultProbe writes to users(username, email)
func DefaultProbe() Probe {
	return Probe{
		Table:     "users",
		KeyColumn: "username",
		Columns: map[string]string{
			"email": KeyPlaceholder + "@replcheck.invalid",
		},
	}
}

// Render returns the value of column for the given key
func (p Probe) Render(column, key string) string {
	return strings.ReplaceAll(p.Columns[column], KeyPlaceholder, key)
}
