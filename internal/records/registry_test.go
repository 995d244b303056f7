package records_test

import (
	"errors"
	"testing"

	"github.com/openhms/medledger/internal/records"
)

func TestDefaultRegistry_tracksHospitalTables(t *testing.T) {
	r := records.DefaultRegistry()

	names := r.Names()
	if len(names) != 8 {
		t.Fatalf("expected 8 tracked tables, got %d: %v", len(names), names)
	}

	table, err := r.Lookup("patients")
	if err != nil {
		t.Fatalf("case-insensitive lookup: %v", err)
	}
	if table.Name != "PATIENTS" {
		t.Errorf("canonical name: got %q, want PATIENTS", table.Name)
	}
	if table.PK() != "patient_id" {
		t.Errorf("primary key: got %q, want patient_id", table.PK())
	}
	if table.Relation() != "patients" {
		t.Errorf("relation: got %q, want patients", table.Relation())
	}
}

func TestRegistry_unknownTable(t *testing.T) {
	r := records.DefaultRegistry()
	_, err := r.Lookup("USERS")
	if !errors.Is(err, records.ErrUnknownTable) {
		t.Errorf("expected ErrUnknownTable, got %v", err)
	}
}

func TestNewRegistry_rejectsBadIdentifiers(t *testing.T) {
	cases := []struct {
		name   string
		tables []records.Table
	}{
		{"table name with injection", []records.Table{{Name: "x; DROP TABLE y", Columns: []string{"id"}}}},
		{"column with quote", []records.Table{{Name: "ok", Columns: []string{`id"`}}}},
		{"no columns", []records.Table{{Name: "ok", Columns: nil}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := records.NewRegistry(tc.tables); err == nil {
				t.Error("expected rejection")
			}
		})
	}
}
