package embedding

import (
	"fmt"
	"strings"
)

// Table names a backfill target.
type Table string

const (
	TableMedicalRecords Table = "medical_records"
	TableAppointments   Table = "appointments"
	TableDiagnoses      Table = "diagnoses"
	TableMedications    Table = "medications"
)

// AllTables is the order "all" processes targets in.
var AllTables = []Table{TableMedicalRecords, TableAppointments, TableDiagnoses, TableMedications}

// ParseTables resolves a --table flag value. "all" or empty selects every
// table.
func ParseTables(s string) ([]Table, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "all" {
		return AllTables, nil
	}
	for _, t := range AllTables {
		if string(t) == s {
			return []Table{t}, nil
		}
	}
	return nil, fmt.Errorf("unknown table %q (want all, medical_records, appointments, diagnoses or medications)", s)
}

// Row is one source text still missing its vector.
type Row struct {
	ID   int64
	Text string
}

// Report summarises one table's run.
type Report struct {
	Table   Table `json:"table"`
	Pending int   `json:"pending"`
	Updated int   `json:"updated"`
	Failed  int   `json:"failed"`
}
