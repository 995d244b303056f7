// Package records is the application-layer side of the integrity ledger: the
// tracked hospital tables, row persistence, and the mutation path that
// attests every insert and update into the chain.
package records

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrUnknownTable is returned when a table is not in the tracked registry.
var ErrUnknownTable = errors.New("table is not tracked")

// ErrUnknownColumn is returned when a mutation references a column the
// tracked table does not declare.
var ErrUnknownColumn = errors.New("column is not declared for table")

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Table describes one tracked table. The first column is the primary key;
// its value is used as the ledger record ID.
type Table struct {
	Name    string
	Columns []string
}

// PK returns the primary-key column name.
func (t Table) PK() string { return t.Columns[0] }

// Relation returns the SQL relation name for the table.
func (t Table) Relation() string { return strings.ToLower(t.Name) }

// Registry is the set of tracked tables and their column order. The ledger
// core never performs schema discovery; this registry is the single source
// of which tables are attested and how their rows are laid out.
type Registry struct {
	tables map[string]Table
}

// NewRegistry builds a registry from table definitions. Table and column
// names must be plain SQL identifiers; anything else is rejected here so
// the repository can safely interpolate them into statements later.
func NewRegistry(tables []Table) (*Registry, error) {
	r := &Registry{tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		if !identPattern.MatchString(t.Name) {
			return nil, fmt.Errorf("invalid table name %q", t.Name)
		}
		if len(t.Columns) == 0 {
			return nil, fmt.Errorf("table %q declares no columns", t.Name)
		}
		for _, col := range t.Columns {
			if !identPattern.MatchString(col) {
				return nil, fmt.Errorf("table %q: invalid column name %q", t.Name, col)
			}
		}
		r.tables[strings.ToUpper(t.Name)] = Table{
			Name:    strings.ToUpper(t.Name),
			Columns: t.Columns,
		}
	}
	return r, nil
}

// DefaultRegistry returns the standard hospital table set.
func DefaultRegistry() *Registry {
	r, err := NewRegistry([]Table{
		{Name: "PATIENTS", Columns: []string{"patient_id", "first_name", "last_name", "dob", "gender", "contact", "address"}},
		{Name: "DOCTORS", Columns: []string{"doctor_id", "first_name", "last_name", "specialization", "contact", "department_id"}},
		{Name: "STAFF", Columns: []string{"staff_id", "first_name", "last_name", "role", "contact", "department_id"}},
		{Name: "APPOINTMENTS", Columns: []string{"appointment_id", "patient_id", "doctor_id", "staff_id", "appointment_date", "status", "notes"}},
		{Name: "MEDICALRECORDS", Columns: []string{"record_id", "patient_id", "doctor_id", "diagnosis", "treatment", "created_at"}},
		{Name: "PRESCRIPTIONS", Columns: []string{"prescription_id", "record_id", "medicine_name", "dosage", "duration", "notes"}},
		{Name: "BILLING", Columns: []string{"bill_id", "patient_id", "appointment_id", "amount", "status", "created_at"}},
		{Name: "INVENTORY", Columns: []string{"item_id", "name", "category", "quantity", "unit", "expiry_date", "created_at"}},
	})
	if err != nil {
		panic(err) // static definitions, cannot fail
	}
	return r
}

// Lookup resolves a table by name, case-insensitively.
func (r *Registry) Lookup(name string) (Table, error) {
	t, ok := r.tables[strings.ToUpper(name)]
	if !ok {
		return Table{}, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t, nil
}

// Names returns the tracked table names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
