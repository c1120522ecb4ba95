package query

import (
	"github.com/smarthealth/clinqa/internal/domain/clinical"
	"github.com/smarthealth/clinqa/internal/domain/retrieval"
)

// Per-kind caps and fixed scores for structured sources.
const (
	maxAppointmentSources  = 5
	maxDiagnosisSources    = 5
	maxPrescriptionSources = 3
	maxVectorSources       = 5

	appointmentScore  = 0.98
	diagnosisScore    = 0.95
	prescriptionScore = 0.92
)

const SourceVectorSearch = "vector_search"

type Doctor struct {
	Name           string `json:"name,omitempty"`
	Specialty      string `json:"specialty,omitempty"`
	MedicalLicense string `json:"medical_license,omitempty"`
}

func newDoctor(name, specialty, license string) *Doctor {
	if name == "" && specialty == "" && license == "" {
		return nil
	}
	return &Doctor{Name: name, Specialty: specialty, MedicalLicense: license}
}

// Source is one provenance entry. Only the fields of its Type are set.
type Source struct {
	SourceID       int     `json:"source_id"`
	Type           string  `json:"type"`
	RelevanceScore float64 `json:"relevance_score"`
	Date           string  `json:"date,omitempty"`

	AppointmentID  int64  `json:"appointment_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
	DiagnosisID    int64  `json:"diagnosis_id,omitempty"`
	Description    string `json:"description,omitempty"`
	ICDCode        string `json:"icd_code,omitempty"`
	PrescriptionID int64  `json:"prescription_id,omitempty"`
	Medication     string `json:"medication,omitempty"`
	Dosage         string `json:"dosage,omitempty"`
	Frequency      string `json:"frequency,omitempty"`

	OriginalSourceID int64  `json:"original_source_id,omitempty"`
	SourceType       string `json:"source_type,omitempty"`

	Doctor *Doctor `json:"doctor,omitempty"`
}

// BuildSources lists appointments, diagnoses, prescriptions and then
// vector hits. Entries without an id are skipped and numbering stays dense.
func BuildSources(records clinical.Records, chunks []retrieval.SimilarChunk) []Source {
	sources := make([]Source, 0, maxAppointmentSources+maxDiagnosisSources+maxPrescriptionSources+maxVectorSources)
	add := func(s Source) {
		s.SourceID = len(sources) + 1
		sources = append(sources, s)
	}

	for _, a := range records.Appointments[:min(len(records.Appointments), maxAppointmentSources)] {
		if a.ID == 0 {
			continue
		}
		s := Source{
			Type:           string(retrieval.SourceAppointment),
			AppointmentID:  a.ID,
			RelevanceScore: appointmentScore,
			Reason:         a.Reason,
			Doctor:         newDoctor(a.DoctorName, a.SpecialtyName, a.MedicalLicense),
		}
		if !a.Date.IsZero() {
			s.Date = a.Date.Format(dateLayout)
		}
		add(s)
	}

	for _, d := range records.Diagnoses[:min(len(records.Diagnoses), maxDiagnosisSources)] {
		if d.DiagnosisID == 0 {
			continue
		}
		s := Source{
			Type:           string(retrieval.SourceDiagnosis),
			DiagnosisID:    d.DiagnosisID,
			Description:    d.Description,
			ICDCode:        d.ICDCode,
			RelevanceScore: diagnosisScore,
		}
		if d.Date != nil {
			s.Date = d.Date.Format(dateLayout)
		}
		add(s)
	}

	for _, p := range records.Prescriptions[:min(len(records.Prescriptions), maxPrescriptionSources)] {
		if p.ID == 0 {
			continue
		}
		s := Source{
			Type:           string(retrieval.SourcePrescription),
			PrescriptionID: p.ID,
			Medication:     p.MedicationName,
			Dosage:         p.Dosage,
			Frequency:      p.Frequency,
			RelevanceScore: prescriptionScore,
		}
		if p.Date != nil {
			s.Date = p.Date.Format(dateLayout)
		}
		add(s)
	}

	for _, c := range chunks[:min(len(chunks), maxVectorSources)] {
		if c.SourceID == 0 {
			continue
		}
		s := Source{
			Type:             SourceVectorSearch,
			OriginalSourceID: c.SourceID,
			SourceType:       string(c.SourceType),
			RelevanceScore:   c.Score,
		}
		if c.Date != nil {
			s.Date = c.Date.Format(dateLayout)
		}
		if c.SourceType == retrieval.SourceAppointment {
			s.Doctor = newDoctor(c.DoctorName, c.SpecialtyName, c.MedicalLicense)
		}
		add(s)
	}
	return sources
}
