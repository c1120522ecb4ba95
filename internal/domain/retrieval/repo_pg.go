package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/smarthealth/clinqa/internal/domain/clinical"
)

// Every query takes $1 patient id, $2 embedding, $3 lower date bound and
// $4 row limit, and yields id, patient, text, date, score and doctor columns.
var tableQueries = map[SourceType]string{
	SourceAppointment: `
		SELECT a.appointment_id, a.patient_id, a.reason, a.appointment_date::timestamptz,
			1 - (a.reason_embedding <-> $2::vector),
			` + clinical.AppointmentDoctorCols + `
		FROM appointments a` + clinical.AppointmentDoctorJoin + `
		WHERE a.patient_id = $1
			AND a.reason_embedding IS NOT NULL
			AND a.reason IS NOT NULL
			AND a.appointment_date >= $3
		ORDER BY a.reason_embedding <-> $2::vector, a.appointment_id
		LIMIT $4`,
	SourceMedicalRecord: `
		SELECT medical_record_id, patient_id, summary_text, registration_datetime,
			1 - (summary_embedding <-> $2::vector), '', '', ''
		FROM medical_records
		WHERE patient_id = $1
			AND summary_embedding IS NOT NULL
			AND summary_text IS NOT NULL
			AND registration_datetime >= $3
		ORDER BY summary_embedding <-> $2::vector, medical_record_id
		LIMIT $4`,
	SourceDiagnosis: `
		SELECT dg.diagnosis_id, mr.patient_id, COALESCE(dg.icd_code, '') || ' - ' || dg.description,
			mr.registration_datetime,
			1 - (dg.description_embedding <-> $2::vector), '', '', ''
		FROM diagnoses dg
		JOIN record_diagnoses rd ON rd.diagnosis_id = dg.diagnosis_id
		JOIN medical_records mr ON mr.medical_record_id = rd.medical_record_id
		WHERE mr.patient_id = $1
			AND dg.description_embedding IS NOT NULL
			AND dg.description IS NOT NULL
			AND mr.registration_datetime >= $3
		ORDER BY dg.description_embedding <-> $2::vector, rd.record_diagnosis_id
		LIMIT $4`,
	SourcePrescription: `
		SELECT p.prescription_id, mr.patient_id,
			m.commercial_name || ' - ' || COALESCE(p.dosage, '') || ' - ' || COALESCE(p.frequency, ''),
			p.prescription_date::timestamptz,
			1 - (m.medication_embedding <-> $2::vector), '', '', ''
		FROM prescriptions p
		JOIN medical_records mr ON mr.medical_record_id = p.medical_record_id
		JOIN medications m ON m.medication_id = p.medication_id
		WHERE mr.patient_id = $1
			AND m.medication_embedding IS NOT NULL
			AND m.commercial_name IS NOT NULL
			AND p.prescription_date >= $3
		ORDER BY m.medication_embedding <-> $2::vector, p.prescription_id
		LIMIT $4`,
}

type storePG struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) SearchTable(ctx context.Context, src SourceType, patientID int64, embedding pgvector.Vector, since time.Time, limit int) ([]SimilarChunk, error) {
	sql, ok := tableQueries[src]
	if !ok {
		return nil, fmt.Errorf("unknown source type %q", src)
	}
	rows, err := s.pool.Query(ctx, sql, patientID, embedding, since, limit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", src, err)
	}
	defer rows.Close()

	var out []SimilarChunk
	for rows.Next() {
		c := SimilarChunk{SourceType: src}
		if err := rows.Scan(&c.SourceID, &c.PatientID, &c.Text, &c.Date, &c.Score,
			&c.DoctorName, &c.SpecialtyName, &c.MedicalLicense); err != nil {
			return nil, fmt.Errorf("scan %s chunk: %w", src, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
