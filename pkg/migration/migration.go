package migration

import (
	"fmt"
	"strings"
)

// Table identifies a table we do not own. We never create or drop it, only add columns.
type Table struct {
	Schema string
	Name   string
}

func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}

	return fmt.Sprintf("%s.%s", t.Schema, t.Name)
}

// Column is a column we want to exist on the target table. Type and Default are rendered
// into SQL verbatim, so they must be trusted values.
type Column struct {
	Name    string
	Type    string
	Default string
}

// AddClause renders the column as a guarded ADD COLUMN, so reapplying it is a no-op.
func (c Column) AddClause() string {
	clause := fmt.Sprintf("ADD COLUMN IF NOT EXISTS %s %s", c.Name, strings.ToUpper(c.Type))
	if c.Default != "" {
		clause = fmt.Sprintf("%s DEFAULT %s", clause, c.Default)
	}

	return clause
}

// Migration adds columns to a single table. Each column gets its own ALTER TABLE
// statement, matching how the statements are reviewed and applied by hand.
type Migration struct {
	Table   Table
	Columns []Column
}

// NotificationPreferences adds per-channel notification toggles to user profiles. Both
// default to enabled, for existing and new rows alike.
var NotificationPreferences = Migration{
	Table: Table{Schema: "public", Name: "user_profiles"},
	Columns: []Column{
		{Name: "notification_email", Type: "boolean", Default: "true"},
		{Name: "notification_browser", Type: "boolean", Default: "true"},
	},
}

// SQL renders the migration as the text submitted to the database. The output is stable
// for a given migration, which is what makes repeated runs converge on the same state.
func (m Migration) SQL() string {
	var b strings.Builder
	for _, column := range m.Columns {
		fmt.Fprintf(&b, "\nALTER TABLE %s\n%s;\n", m.Table, column.AddClause())
	}

	return b.String()
}

func (m Migration) ColumnNames() []string {
	names := make([]string, 0, len(m.Columns))
	for _, column := range m.Columns {
		names = append(names, column.Name)
	}

	return names
}
