package clinical

import (
	"strings"
	"time"
)

// MedicationNotSpecified replaces a missing medication name on prescriptions.
const MedicationNotSpecified = "medication not specified"

// documentTypeCodes maps document_type_id to its short code.
var documentTypeCodes = map[int]string{
	1: "CC",
	2: "CE",
	3: "TI",
	4: "PA",
	5: "RC",
	6: "MS",
	7: "AS",
	8: "CD",
}

// DocumentTypeCode returns the short code for a document type id, or "" when
// the id is unknown.
func DocumentTypeCode(id int) string {
	return documentTypeCodes[id]
}

// ValidDocumentType reports whether id is one of the eight accepted types.
func ValidDocumentType(id int) bool {
	_, ok := documentTypeCodes[id]
	return ok
}

// PatientInfo is the identity and demographic snapshot of one patient.
// Optional text columns are "" when absent.
type PatientInfo struct {
	ID             int64      `db:"patient_id" json:"patient_id"`
	FirstName      string     `db:"first_name" json:"first_name"`
	MiddleName     string     `db:"middle_name" json:"middle_name,omitempty"`
	FirstSurname   string     `db:"first_surname" json:"first_surname"`
	SecondSurname  string     `db:"second_surname" json:"second_surname,omitempty"`
	BirthDate      *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Gender         string     `db:"gender" json:"gender,omitempty"`
	Email          string     `db:"email" json:"email,omitempty"`
	DocumentTypeID int        `db:"document_type_id" json:"document_type_id"`
	DocumentNumber string     `db:"document_number" json:"document_number"`
	Active         bool       `db:"active" json:"active"`
	BloodType      string     `db:"blood_type" json:"blood_type,omitempty"`
}

// FullName joins first name, first surname and, when present, second surname.
func (p *PatientInfo) FullName() string {
	parts := []string{p.FirstName, p.FirstSurname}
	if p.SecondSurname != "" {
		parts = append(parts, p.SecondSurname)
	}
	return strings.Join(parts, " ")
}

// AgeAt returns the patient's age in whole years on the given day. ok is
// false when the birth date is unknown.
func (p *PatientInfo) AgeAt(now time.Time) (age int, ok bool) {
	if p.BirthDate == nil {
		return 0, false
	}
	b := *p.BirthDate
	age = now.Year() - b.Year()
	if now.Month() < b.Month() || (now.Month() == b.Month() && now.Day() < b.Day()) {
		age--
	}
	return age, true
}

// Appointment carries the attending doctor denormalized from doctors and the
// doctor's most recently certified active specialty.
type Appointment struct {
	ID             int64     `db:"appointment_id" json:"appointment_id"`
	PatientID      int64     `db:"patient_id" json:"patient_id"`
	DoctorID       int64     `db:"doctor_id" json:"doctor_id"`
	Date           time.Time `db:"appointment_date" json:"appointment_date"`
	StartTime      string    `db:"start_time" json:"start_time,omitempty"`
	EndTime        string    `db:"end_time" json:"end_time,omitempty"`
	Type           string    `db:"appointment_type" json:"appointment_type,omitempty"`
	Status         string    `db:"status" json:"status"`
	Reason         string    `db:"reason" json:"reason,omitempty"`
	DoctorName     string    `db:"doctor_name" json:"doctor_name,omitempty"`
	SpecialtyName  string    `db:"specialty_name" json:"specialty_name,omitempty"`
	MedicalLicense string    `db:"medical_license_number" json:"medical_license_number,omitempty"`
}

type MedicalRecord struct {
	ID                 int64     `db:"medical_record_id" json:"medical_record_id"`
	PatientID          int64     `db:"patient_id" json:"patient_id"`
	DoctorID           int64     `db:"doctor_id" json:"doctor_id"`
	PrimaryDiagnosisID *int64    `db:"primary_diagnosis_id" json:"primary_diagnosis_id,omitempty"`
	RegisteredAt       time.Time `db:"registration_datetime" json:"registration_datetime"`
	Type               string    `db:"record_type" json:"record_type,omitempty"`
	Summary            string    `db:"summary_text" json:"summary_text,omitempty"`
	VitalSigns         string    `db:"vital_signs" json:"vital_signs,omitempty"`
}

// Prescription carries the medication denormalized from medications.
// MedicationName is MedicationNotSpecified when no medication is linked.
type Prescription struct {
	ID                 int64      `db:"prescription_id" json:"prescription_id"`
	MedicalRecordID    int64      `db:"medical_record_id" json:"medical_record_id"`
	MedicationID       *int64     `db:"medication_id" json:"medication_id,omitempty"`
	Dosage             string     `db:"dosage" json:"dosage,omitempty"`
	Frequency          string     `db:"frequency" json:"frequency,omitempty"`
	Duration           string     `db:"duration" json:"duration,omitempty"`
	Instruction        string     `db:"instruction" json:"instruction,omitempty"`
	Date               *time.Time `db:"prescription_date" json:"prescription_date,omitempty"`
	AlertGenerated     bool       `db:"alert_generated" json:"alert_generated"`
	MedicationName     string     `db:"medication_name" json:"medication_name"`
	ActiveIngredient   string     `db:"active_ingredient" json:"active_ingredient,omitempty"`
	PharmaceuticalForm string     `db:"pharmaceutical_form" json:"pharmaceutical_form,omitempty"`
}

// Diagnosis is one record_diagnoses row; Date is inherited from the owning
// medical record.
type Diagnosis struct {
	RecordDiagnosisID int64      `db:"record_diagnosis_id" json:"record_diagnosis_id"`
	DiagnosisID       int64      `db:"diagnosis_id" json:"diagnosis_id"`
	ICDCode           string     `db:"icd_code" json:"icd_code"`
	Description       string     `db:"description" json:"description"`
	Type              string     `db:"diagnosis_type" json:"diagnosis_type,omitempty"`
	Note              string     `db:"note" json:"note,omitempty"`
	Date              *time.Time `db:"diagnosis_date" json:"diagnosis_date,omitempty"`
}

// Records holds a patient's collections, each ordered newest first.
type Records struct {
	Appointments   []Appointment   `json:"appointments"`
	MedicalRecords []MedicalRecord `json:"medical_records"`
	Prescriptions  []Prescription  `json:"prescriptions"`
	Diagnoses      []Diagnosis     `json:"diagnoses"`
}

// Count is the total number of rows across the four collections.
func (r *Records) Count() int {
	return len(r.Appointments) + len(r.MedicalRecords) + len(r.Prescriptions) + len(r.Diagnoses)
}

func (r *Records) HasData() bool {
	return r.Count() > 0
}

// Result is the outcome of Fetch. Patient is nil when no patient matches.
type Result struct {
	Patient *PatientInfo
	Records Records
	HasData bool
}
