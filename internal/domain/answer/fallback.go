package answer

import (
	"fmt"
	"strings"

	"github.com/smarthealth/clinqa/internal/domain/clinical"
)

const (
	FallbackModel      = "fallback-system"
	FallbackConfidence = 0.65
	fallbackPerSection = 3
)

const (
	fallbackNoData     = "No relevant information was found to answer the question."
	fallbackDisclaimer = "Note: this answer was generated directly from the clinical records due to a temporary issue with the assistant."
)

// Fallback summarizes the most recent appointments, diagnoses and
// prescriptions without a model. It never fails.
func Fallback(records clinical.Records, _ string) string {
	var parts []string

	if len(records.Appointments) > 0 {
		parts = append(parts, "Recent appointments:")
		for _, a := range records.Appointments[:min(len(records.Appointments), fallbackPerSection)] {
			parts = append(parts, fmt.Sprintf("- %s: %s (status: %s)",
				a.Date.Format("2006-01-02"), valueOr(a.Reason, "not specified"), valueOr(a.Status, "not available")))
		}
	}
	if len(records.Diagnoses) > 0 {
		if len(parts) > 0 {
			parts = append(parts, "")
		}
		parts = append(parts, "Diagnoses:")
		for _, d := range records.Diagnoses[:min(len(records.Diagnoses), fallbackPerSection)] {
			parts = append(parts, fmt.Sprintf("- %s (ICD: %s)", valueOr(d.Description, "no description"), d.ICDCode))
		}
	}
	if len(records.Prescriptions) > 0 {
		if len(parts) > 0 {
			parts = append(parts, "")
		}
		parts = append(parts, "Prescribed medications:")
		for _, p := range records.Prescriptions[:min(len(records.Prescriptions), fallbackPerSection)] {
			parts = append(parts, strings.TrimSpace(fmt.Sprintf("- %s %s", valueOr(p.MedicationName, clinical.MedicationNotSpecified), p.Dosage)))
		}
	}

	if len(parts) == 0 {
		return fallbackNoData
	}
	parts = append(parts, "", fallbackDisclaimer)
	return strings.Join(parts, "\n")
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
