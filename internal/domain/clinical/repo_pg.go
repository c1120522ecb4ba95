package clinical

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smarthealth/clinqa/internal/platform/db"
)

// AppointmentDoctorJoin attaches the attending doctor (alias d) and one
// active specialty (alias sp) to an appointments row aliased a. The lateral
// subquery keeps one row per appointment: the latest certification wins and
// ties fall to the lowest specialty id.
const AppointmentDoctorJoin = `
	LEFT JOIN doctors d ON d.doctor_id = a.doctor_id
	LEFT JOIN LATERAL (
		SELECT s.specialty_name
		FROM doctor_specialties ds
		JOIN specialties s ON s.specialty_id = ds.specialty_id
		WHERE ds.doctor_id = a.doctor_id AND ds.is_active
		ORDER BY ds.certification_date DESC NULLS LAST, ds.specialty_id
		LIMIT 1
	) sp ON true`

// AppointmentDoctorCols selects doctor name, specialty and license from the
// aliases introduced by AppointmentDoctorJoin.
const AppointmentDoctorCols = `COALESCE(TRIM(COALESCE(d.first_name, '') || ' ' || COALESCE(d.last_name, '')), ''),
	COALESCE(sp.specialty_name, ''), COALESCE(d.medical_license_number, '')`

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `patient_id, first_name, COALESCE(middle_name, ''), first_surname,
	COALESCE(second_surname, ''), birth_date, COALESCE(gender, ''), COALESCE(email, ''),
	document_type_id, document_number, COALESCE(active, true), COALESCE(blood_type, '')`

func scanPatient(row pgx.Row) (*PatientInfo, error) {
	var p PatientInfo
	err := row.Scan(&p.ID, &p.FirstName, &p.MiddleName, &p.FirstSurname,
		&p.SecondSurname, &p.BirthDate, &p.Gender, &p.Email,
		&p.DocumentTypeID, &p.DocumentNumber, &p.Active, &p.BloodType)
	return &p, err
}

func (r *repoPG) FindPatients(ctx context.Context, documentTypeID int, documentNumber string) ([]*PatientInfo, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+patientCols+`
		FROM patients
		WHERE document_type_id = $1 AND document_number = $2
		ORDER BY patient_id
		LIMIT 2`, documentTypeID, documentNumber)
	if err != nil {
		return nil, fmt.Errorf("find patient: %w", err)
	}
	defer rows.Close()

	var patients []*PatientInfo
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

const appointmentCols = `a.appointment_id, a.patient_id, COALESCE(a.doctor_id, 0), a.appointment_date,
	COALESCE(a.start_time::text, ''), COALESCE(a.end_time::text, ''),
	COALESCE(a.appointment_type, ''), COALESCE(a.status, ''), COALESCE(a.reason, ''), ` + AppointmentDoctorCols

func (r *repoPG) ListAppointments(ctx context.Context, patientID int64) ([]Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments a`+AppointmentDoctorJoin+`
		WHERE a.patient_id = $1
		ORDER BY a.appointment_date DESC, a.start_time DESC NULLS LAST, a.appointment_id DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Date,
			&a.StartTime, &a.EndTime, &a.Type, &a.Status, &a.Reason,
			&a.DoctorName, &a.SpecialtyName, &a.MedicalLicense); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const medicalRecordCols = `medical_record_id, patient_id, COALESCE(doctor_id, 0), primary_diagnosis_id,
	registration_datetime, COALESCE(record_type, ''), COALESCE(summary_text, ''), COALESCE(vital_signs::text, '')`

func (r *repoPG) ListMedicalRecords(ctx context.Context, patientID int64) ([]MedicalRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+medicalRecordCols+`
		FROM medical_records
		WHERE patient_id = $1
		ORDER BY registration_datetime DESC, medical_record_id DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list medical records: %w", err)
	}
	defer rows.Close()

	var out []MedicalRecord
	for rows.Next() {
		var m MedicalRecord
		if err := rows.Scan(&m.ID, &m.PatientID, &m.DoctorID, &m.PrimaryDiagnosisID,
			&m.RegisteredAt, &m.Type, &m.Summary, &m.VitalSigns); err != nil {
			return nil, fmt.Errorf("scan medical record: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const prescriptionCols = `p.prescription_id, p.medical_record_id, p.medication_id,
	COALESCE(p.dosage, ''), COALESCE(p.frequency, ''), COALESCE(p.duration, ''), COALESCE(p.instruction, ''),
	p.prescription_date, COALESCE(p.alert_generated, false),
	COALESCE(m.commercial_name, ''), COALESCE(m.active_ingredient, ''), COALESCE(m.presentation, '')`

func (r *repoPG) ListPrescriptions(ctx context.Context, patientID int64) ([]Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+prescriptionCols+`
		FROM prescriptions p
		JOIN medical_records mr ON mr.medical_record_id = p.medical_record_id
		LEFT JOIN medications m ON m.medication_id = p.medication_id
		WHERE mr.patient_id = $1
		ORDER BY p.prescription_date DESC NULLS LAST, p.prescription_id DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()

	var out []Prescription
	for rows.Next() {
		var p Prescription
		if err := rows.Scan(&p.ID, &p.MedicalRecordID, &p.MedicationID,
			&p.Dosage, &p.Frequency, &p.Duration, &p.Instruction,
			&p.Date, &p.AlertGenerated,
			&p.MedicationName, &p.ActiveIngredient, &p.PharmaceuticalForm); err != nil {
			return nil, fmt.Errorf("scan prescription: %w", err)
		}
		if p.MedicationName == "" {
			p.MedicationName = MedicationNotSpecified
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const diagnosisCols = `rd.record_diagnosis_id, rd.diagnosis_id, COALESCE(dg.icd_code, ''),
	COALESCE(dg.description, ''), COALESCE(rd.diagnosis_type, ''), COALESCE(rd.note, ''),
	mr.registration_datetime`

func (r *repoPG) ListDiagnoses(ctx context.Context, patientID int64) ([]Diagnosis, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+diagnosisCols+`
		FROM record_diagnoses rd
		JOIN medical_records mr ON mr.medical_record_id = rd.medical_record_id
		JOIN diagnoses dg ON dg.diagnosis_id = rd.diagnosis_id
		WHERE mr.patient_id = $1
		ORDER BY mr.registration_datetime DESC, rd.record_diagnosis_id DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list diagnoses: %w", err)
	}
	defer rows.Close()

	var out []Diagnosis
	for rows.Next() {
		var d Diagnosis
		if err := rows.Scan(&d.RecordDiagnosisID, &d.DiagnosisID, &d.ICDCode,
			&d.Description, &d.Type, &d.Note, &d.Date); err != nil {
			return nil, fmt.Errorf("scan diagnosis: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
