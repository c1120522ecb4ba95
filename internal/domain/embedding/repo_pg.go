package embedding

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type tableSQL struct {
	pending string
	update  string
}

var tableStatements = map[Table]tableSQL{
	TableMedicalRecords: {
		pending: `SELECT medical_record_id, summary_text FROM medical_records
			WHERE summary_embedding IS NULL AND summary_text IS NOT NULL AND summary_text <> ''
			ORDER BY medical_record_id LIMIT $1`,
		update: `UPDATE medical_records SET summary_embedding = $2 WHERE medical_record_id = $1`,
	},
	TableAppointments: {
		pending: `SELECT appointment_id, reason FROM appointments
			WHERE reason_embedding IS NULL AND reason IS NOT NULL AND reason <> ''
			ORDER BY appointment_id LIMIT $1`,
		update: `UPDATE appointments SET reason_embedding = $2 WHERE appointment_id = $1`,
	},
	TableDiagnoses: {
		pending: `SELECT diagnosis_id, description FROM diagnoses
			WHERE description_embedding IS NULL AND description IS NOT NULL AND description <> ''
			ORDER BY diagnosis_id LIMIT $1`,
		update: `UPDATE diagnoses SET description_embedding = $2 WHERE diagnosis_id = $1`,
	},
	TableMedications: {
		pending: `SELECT medication_id,
				concat_ws(' ', commercial_name, active_ingredient, presentation)
			FROM medications
			WHERE medication_embedding IS NULL AND commercial_name IS NOT NULL
			ORDER BY medication_id LIMIT $1`,
		update: `UPDATE medications SET medication_embedding = $2 WHERE medication_id = $1`,
	},
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func statements(t Table) (tableSQL, error) {
	s, ok := tableStatements[t]
	if !ok {
		return tableSQL{}, fmt.Errorf("unknown table %q", t)
	}
	return s, nil
}

func (r *repoPG) PendingRows(ctx context.Context, t Table, limit int) ([]Row, error) {
	s, err := statements(t)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, s.pending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending %s: %w", t, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.ID, &row.Text); err != nil {
			return nil, fmt.Errorf("scan pending %s: %w", t, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *repoPG) SetEmbedding(ctx context.Context, t Table, id int64, v pgvector.Vector) error {
	s, err := statements(t)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, s.update, id, v)
	if err != nil {
		return fmt.Errorf("update %s %d: %w", t, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s %d: row not found", t, id)
	}
	return nil
}
