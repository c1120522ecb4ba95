package retrieval

import "time"

// SourceType names the clinical table a chunk was retrieved from.
type SourceType string

const (
	SourceAppointment   SourceType = "appointment"
	SourceMedicalRecord SourceType = "medical_record"
	SourceDiagnosis     SourceType = "diagnosis"
	SourcePrescription  SourceType = "prescription"
)

// AllSources lists every searchable table in merge order.
var AllSources = []SourceType{SourceAppointment, SourceMedicalRecord, SourceDiagnosis, SourcePrescription}

// SimilarChunk is one nearest-neighbour hit. Score is 1 minus the vector
// distance and is not clamped, so it can fall outside [0,1]. The doctor
// fields are only populated for appointments.
type SimilarChunk struct {
	SourceType     SourceType `json:"source_type"`
	SourceID       int64      `json:"source_id"`
	PatientID      int64      `json:"patient_id"`
	Text           string     `json:"chunk_text"`
	Date           *time.Time `json:"date,omitempty"`
	Score          float64    `json:"relevance_score"`
	DoctorName     string     `json:"doctor_name,omitempty"`
	SpecialtyName  string     `json:"specialty_name,omitempty"`
	MedicalLicense string     `json:"medical_license,omitempty"`
}

// Query describes one semantic search. An empty Sources searches every table.
type Query struct {
	PatientID int64
	Question  string
	K         int
	MinScore  float64
	Sources   []SourceType
}

func (q Query) allows(src SourceType) bool {
	if len(q.Sources) == 0 {
		return true
	}
	for _, s := range q.Sources {
		if s == src {
			return true
		}
	}
	return false
}
