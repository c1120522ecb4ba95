package clinical

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type mockRepo struct {
	mu            sync.Mutex
	patients      map[string][]*PatientInfo
	appointments  map[int64][]Appointment
	records       map[int64][]MedicalRecord
	prescriptions map[int64][]Prescription
	diagnoses     map[int64][]Diagnosis
	findErr       error
	listErr       error
	calls         []string
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		patients:      make(map[string][]*PatientInfo),
		appointments:  make(map[int64][]Appointment),
		records:       make(map[int64][]MedicalRecord),
		prescriptions: make(map[int64][]Prescription),
		diagnoses:     make(map[int64][]Diagnosis),
	}
}

func (m *mockRepo) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *mockRepo) FindPatients(_ context.Context, _ int, documentNumber string) ([]*PatientInfo, error) {
	m.record("patients")
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.patients[documentNumber], nil
}

func (m *mockRepo) ListAppointments(_ context.Context, id int64) ([]Appointment, error) {
	m.record("appointments")
	return m.appointments[id], m.listErr
}

func (m *mockRepo) ListMedicalRecords(_ context.Context, id int64) ([]MedicalRecord, error) {
	m.record("records")
	return m.records[id], nil
}

func (m *mockRepo) ListPrescriptions(_ context.Context, id int64) ([]Prescription, error) {
	m.record("prescriptions")
	return m.prescriptions[id], nil
}

func (m *mockRepo) ListDiagnoses(_ context.Context, id int64) ([]Diagnosis, error) {
	m.record("diagnoses")
	return m.diagnoses[id], nil
}

func TestFetch_PatientNotFound(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())

	res, err := svc.Fetch(context.Background(), 1, "404")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Patient != nil {
		t.Fatalf("expected nil patient, got %+v", res.Patient)
	}
	if res.HasData {
		t.Error("expected HasData false")
	}
	if len(repo.calls) != 1 {
		t.Errorf("expected only the patient lookup, got %v", repo.calls)
	}
}

func TestFetch_LoadsCollections(t *testing.T) {
	repo := newMockRepo()
	repo.patients["AB-12345"] = []*PatientInfo{{ID: 7, FirstName: "Ana", FirstSurname: "Ruiz"}}
	repo.appointments[7] = []Appointment{{ID: 1, Status: "completed"}}
	repo.diagnoses[7] = []Diagnosis{{RecordDiagnosisID: 3, ICDCode: "E11"}}
	svc := NewService(repo, zerolog.Nop())

	res, err := svc.Fetch(context.Background(), 1, "AB-12345")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Patient == nil || res.Patient.ID != 7 {
		t.Fatalf("expected patient 7, got %+v", res.Patient)
	}
	if !res.HasData {
		t.Error("expected HasData true")
	}
	if res.Records.Count() != 2 {
		t.Errorf("expected 2 records, got %d", res.Records.Count())
	}
}

func TestFetch_PatientWithoutRecords(t *testing.T) {
	repo := newMockRepo()
	repo.patients["555"] = []*PatientInfo{{ID: 9}}
	svc := NewService(repo, zerolog.Nop())

	res, err := svc.Fetch(context.Background(), 1, "555")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Patient == nil {
		t.Fatal("expected patient")
	}
	if res.HasData {
		t.Error("expected HasData false for a patient with no rows")
	}
}

func TestFetch_DuplicatePatientsUsesFirst(t *testing.T) {
	repo := newMockRepo()
	repo.patients["dup"] = []*PatientInfo{{ID: 1}, {ID: 2}}
	svc := NewService(repo, zerolog.Nop())

	res, err := svc.Fetch(context.Background(), 1, "dup")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Patient.ID != 1 {
		t.Errorf("expected first patient, got %d", res.Patient.ID)
	}
}

func TestFetch_RepositoryErrors(t *testing.T) {
	t.Run("lookup", func(t *testing.T) {
		repo := newMockRepo()
		repo.findErr = errors.New("connection refused")
		if _, err := NewService(repo, zerolog.Nop()).Fetch(context.Background(), 1, "x"); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("collection", func(t *testing.T) {
		repo := newMockRepo()
		repo.patients["x"] = []*PatientInfo{{ID: 1}}
		repo.listErr = errors.New("relation does not exist")
		_, err := NewService(repo, zerolog.Nop()).Fetch(context.Background(), 1, "x")
		if err == nil {
			t.Fatal("expected error")
		}
		if !errors.Is(err, repo.listErr) {
			t.Errorf("expected wrapped repository error, got %v", err)
		}
	})
}

func TestPatientInfo_FullName(t *testing.T) {
	tests := []struct {
		name string
		p    PatientInfo
		want string
	}{
		{"two surnames", PatientInfo{FirstName: "Ana", MiddleName: "Maria", FirstSurname: "Ruiz", SecondSurname: "Lopez"}, "Ana Ruiz Lopez"},
		{"one surname", PatientInfo{FirstName: "Ana", FirstSurname: "Ruiz"}, "Ana Ruiz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.FullName(); got != tt.want {
				t.Errorf("FullName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPatientInfo_AgeAt(t *testing.T) {
	birth := time.Date(1990, time.June, 15, 0, 0, 0, 0, time.UTC)
	p := PatientInfo{BirthDate: &birth}

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"before birthday", time.Date(2024, time.June, 14, 0, 0, 0, 0, time.UTC), 33},
		{"on birthday", time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC), 34},
		{"earlier month", time.Date(2024, time.January, 30, 0, 0, 0, 0, time.UTC), 33},
		{"later month", time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC), 34},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.AgeAt(tt.now)
			if !ok {
				t.Fatal("expected age to be known")
			}
			if got != tt.want {
				t.Errorf("AgeAt() = %d, want %d", got, tt.want)
			}
		})
	}

	if _, ok := (&PatientInfo{}).AgeAt(time.Now()); ok {
		t.Error("expected unknown age without birth date")
	}
}

func TestDocumentTypeCode(t *testing.T) {
	if got := DocumentTypeCode(1); got != "CC" {
		t.Errorf("expected CC, got %q", got)
	}
	if got := DocumentTypeCode(8); got != "CD" {
		t.Errorf("expected CD, got %q", got)
	}
	if ValidDocumentType(0) || ValidDocumentType(9) {
		t.Error("expected 0 and 9 to be invalid")
	}
}
