package prompt

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/smarthealth/clinqa/internal/domain/clinical"
	"github.com/smarthealth/clinqa/internal/domain/retrieval"
)

// Section caps, most recent first.
const (
	MaxAppointments   = 10
	MaxMedicalRecords = 10
	MaxPrescriptions  = 15
	MaxDiagnoses      = 15
	MaxChunks         = 5
)

const dateLayout = "2006-01-02"

var ErrNoPatient = errors.New("context requires a patient")

type Builder struct {
	tokenizer Tokenizer
	now       func() time.Time
}

func NewBuilder(tokenizer Tokenizer) *Builder {
	return &Builder{tokenizer: tokenizer, now: time.Now}
}

// Build renders the patient, records and chunks into labelled sections and
// bounds the result to maxTokens. Truncation works on tokens, so it may cut
// a section midway. The returned count is the size of the returned text.
func (b *Builder) Build(patient *clinical.PatientInfo, records clinical.Records, chunks []retrieval.SimilarChunk, maxTokens int) (text string, tokens int, err error) {
	if patient == nil {
		return "", 0, ErrNoPatient
	}
	if maxTokens <= 0 {
		return "", 0, fmt.Errorf("token budget must be positive, got %d", maxTokens)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tokenize context: %v", r)
		}
	}()

	var sb strings.Builder
	b.writePatient(&sb, patient)
	writeAppointments(&sb, records.Appointments)
	writeMedicalRecords(&sb, records.MedicalRecords)
	writePrescriptions(&sb, records.Prescriptions)
	writeDiagnoses(&sb, records.Diagnoses)
	writeChunks(&sb, chunks)

	full := strings.TrimRight(sb.String(), "\n")
	ids := b.tokenizer.Encode(full)
	if len(ids) <= maxTokens {
		return full, len(ids), nil
	}
	// A BPE token can hold part of a multibyte rune, so back off until the
	// cut lands on a rune boundary.
	n := maxTokens
	text = b.tokenizer.Decode(ids[:n])
	for n > 1 && !utf8.ValidString(text) {
		n--
		text = b.tokenizer.Decode(ids[:n])
	}
	return text, n, nil
}

func (b *Builder) writePatient(sb *strings.Builder, p *clinical.PatientInfo) {
	sb.WriteString("### Patient Information\n")
	fmt.Fprintf(sb, "Name: %s\n", p.FullName())
	if age, ok := p.AgeAt(b.now()); ok {
		fmt.Fprintf(sb, "Age: %d years\n", age)
	} else {
		sb.WriteString("Age: unknown\n")
	}
	doc := clinical.DocumentTypeCode(p.DocumentTypeID)
	if doc == "" {
		doc = fmt.Sprintf("type %d", p.DocumentTypeID)
	}
	fmt.Fprintf(sb, "Document: %s %s\n", doc, p.DocumentNumber)
	fmt.Fprintf(sb, "Gender: %s\n", orUnknown(p.Gender))
	fmt.Fprintf(sb, "Email: %s\n", orUnknown(p.Email))
	if p.BloodType != "" {
		fmt.Fprintf(sb, "Blood type: %s\n", p.BloodType)
	}
}

func writeAppointments(sb *strings.Builder, appts []clinical.Appointment) {
	if len(appts) == 0 {
		return
	}
	sb.WriteString("\n### Recent Appointments\n")
	for _, a := range appts[:min(len(appts), MaxAppointments)] {
		sb.WriteString("- " + a.Date.Format(dateLayout))
		if a.StartTime != "" {
			sb.WriteString(" at " + a.StartTime)
		}
		if a.DoctorName != "" {
			sb.WriteString(" with " + a.DoctorName)
			if a.SpecialtyName != "" {
				sb.WriteString(" (" + a.SpecialtyName + ")")
			}
		}
		if a.Type != "" {
			sb.WriteString(", " + a.Type)
		}
		if a.Reason != "" {
			sb.WriteString(": " + a.Reason)
		}
		if a.Status != "" {
			sb.WriteString(" [" + a.Status + "]")
		}
		sb.WriteByte('\n')
	}
}

// recordDescription falls back from the summary to the vital signs.
func recordDescription(m clinical.MedicalRecord) string {
	switch {
	case m.Summary != "":
		return m.Summary
	case m.VitalSigns != "":
		return "Vital signs: " + m.VitalSigns
	default:
		return "no description recorded"
	}
}

func writeMedicalRecords(sb *strings.Builder, recs []clinical.MedicalRecord) {
	if len(recs) == 0 {
		return
	}
	sb.WriteString("\n### Medical Records\n")
	for _, m := range recs[:min(len(recs), MaxMedicalRecords)] {
		sb.WriteString("- " + m.RegisteredAt.Format(dateLayout))
		if m.Type != "" {
			sb.WriteString(" (" + m.Type + ")")
		}
		sb.WriteString(": " + recordDescription(m) + "\n")
	}
}

func writePrescriptions(sb *strings.Builder, rxs []clinical.Prescription) {
	if len(rxs) == 0 {
		return
	}
	sb.WriteString("\n### Prescriptions\n")
	for _, p := range rxs[:min(len(rxs), MaxPrescriptions)] {
		parts := []string{p.MedicationName}
		if p.Dosage != "" {
			parts = append(parts, "dosage: "+p.Dosage)
		}
		if p.Frequency != "" {
			parts = append(parts, "frequency: "+p.Frequency)
		}
		if p.Duration != "" {
			parts = append(parts, "duration: "+p.Duration)
		}
		if p.Instruction != "" {
			parts = append(parts, "instructions: "+p.Instruction)
		}
		line := "- " + strings.Join(parts, ", ")
		if p.Date != nil {
			line += " (" + p.Date.Format(dateLayout) + ")"
		}
		sb.WriteString(line + "\n")
	}
}

func writeDiagnoses(sb *strings.Builder, dxs []clinical.Diagnosis) {
	if len(dxs) == 0 {
		return
	}
	sb.WriteString("\n### Diagnoses\n")
	for _, d := range dxs[:min(len(dxs), MaxDiagnoses)] {
		desc := d.Description
		if desc == "" {
			desc = "unspecified diagnosis"
		}
		line := "- " + desc
		if d.ICDCode != "" {
			line += " (ICD: " + d.ICDCode + ")"
		}
		if d.Type != "" {
			line += ", " + d.Type
		}
		if d.Date != nil {
			line += ", " + d.Date.Format(dateLayout)
		}
		if d.Note != "" {
			line += ". Note: " + d.Note
		}
		sb.WriteString(line + "\n")
	}
}

func writeChunks(sb *strings.Builder, chunks []retrieval.SimilarChunk) {
	if len(chunks) == 0 {
		return
	}
	sorted := slices.Clone(chunks)
	slices.SortStableFunc(sorted, func(a, b retrieval.SimilarChunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	sb.WriteString("\n### Additional Relevant Information\n")
	for _, c := range sorted[:min(len(sorted), MaxChunks)] {
		fmt.Fprintf(sb, "[Relevance: %.2f] %s\n", c.Score, c.Text)
		src := fmt.Sprintf("[Source: %s ID %d", c.SourceType, c.SourceID)
		if c.Date != nil {
			src += " (" + c.Date.Format(dateLayout) + ")"
		}
		if c.SourceType == retrieval.SourceAppointment && c.DoctorName != "" {
			src += ", Doctor: " + c.DoctorName
			if c.SpecialtyName != "" {
				src += " (" + c.SpecialtyName + ")"
			}
		}
		sb.WriteString(src + "]\n\n")
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "not recorded"
	}
	return s
}
