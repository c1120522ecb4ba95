package clinical

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/smarthealth/clinqa/internal/platform/db"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "clinical").Logger()}
}

// Fetch looks a patient up by document and loads the four clinical
// collections. An unknown patient yields a Result with a nil Patient and no
// error; any database failure is returned as an error.
func (s *Service) Fetch(ctx context.Context, documentTypeID int, documentNumber string) (*Result, error) {
	patients, err := s.repo.FindPatients(ctx, documentTypeID, documentNumber)
	if err != nil {
		return nil, err
	}
	if len(patients) == 0 {
		return &Result{}, nil
	}
	if len(patients) > 1 {
		s.logger.Warn().
			Int("document_type_id", documentTypeID).
			Int64("patient_id", patients[0].ID).
			Int64("duplicate_patient_id", patients[1].ID).
			Msg("multiple patients share one document, using the first")
	}
	patient := patients[0]

	var recs Records
	g, gctx := errgroup.WithContext(ctx)
	if db.TxFromContext(ctx) != nil {
		// a pgx.Tx cannot run queries concurrently
		g.SetLimit(1)
	}
	g.Go(func() error {
		var err error
		recs.Appointments, err = s.repo.ListAppointments(gctx, patient.ID)
		return err
	})
	g.Go(func() error {
		var err error
		recs.MedicalRecords, err = s.repo.ListMedicalRecords(gctx, patient.ID)
		return err
	})
	g.Go(func() error {
		var err error
		recs.Prescriptions, err = s.repo.ListPrescriptions(gctx, patient.ID)
		return err
	})
	g.Go(func() error {
		var err error
		recs.Diagnoses, err = s.repo.ListDiagnoses(gctx, patient.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch records for patient %d: %w", patient.ID, err)
	}

	return &Result{Patient: patient, Records: recs, HasData: recs.HasData()}, nil
}
