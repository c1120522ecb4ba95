package clinical

import "context"

// Repository reads a patient and the four clinical collections. Every list
// method returns rows newest first.
type Repository interface {
	// FindPatients returns at most two patients matching the document so the
	// caller can detect a broken uniqueness constraint.
	FindPatients(ctx context.Context, documentTypeID int, documentNumber string) ([]*PatientInfo, error)
	ListAppointments(ctx context.Context, patientID int64) ([]Appointment, error)
	ListMedicalRecords(ctx context.Context, patientID int64) ([]MedicalRecord, error)
	ListPrescriptions(ctx context.Context, patientID int64) ([]Prescription, error)
	ListDiagnoses(ctx context.Context, patientID int64) ([]Diagnosis, error)
}
