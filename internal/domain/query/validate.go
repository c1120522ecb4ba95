package query

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/smarthealth/clinqa/internal/domain/clinical"
)

const (
	MaxDocumentNumberLen = 50
	MinDocumentNumberLen = 3
	MinQuestionLen       = 5
	MaxQuestionLen       = 1000
)

// dangerousInputMessage is returned for every injection signature so callers
// cannot probe which rule fired.
const dangerousInputMessage = "the request contains potentially dangerous patterns"

var (
	documentCharset   = regexp.MustCompile(`[^A-Za-z0-9-]`)
	injectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bOR\b.*=.*`),
		regexp.MustCompile(`(?i)\bAND\b.*=.*`),
		regexp.MustCompile(`(?i)DROP\s+TABLE`),
		regexp.MustCompile(`(?i)DELETE\s+FROM`),
		regexp.MustCompile(`(?i)INSERT\s+INTO`),
		regexp.MustCompile(`(?i)UPDATE\s+\w+\s+SET`),
		regexp.MustCompile(`--\s*$`),
		regexp.MustCompile(`(?i);.*SELECT`),
		regexp.MustCompile(`(?i)\bUNION\b.*\bSELECT\b`),
	}
)

// Input is one question about one patient.
type Input struct {
	UserID         int64
	SessionID      string
	DocumentTypeID int
	DocumentNumber string
	Question       string
}

// ValidationError carries the reason shown to the caller.
type ValidationError struct {
	Reason    string
	injection bool
}

func (e *ValidationError) Error() string { return e.Reason }

// Validated holds the normalized identifiers used by every later stage.
type Validated struct {
	DocumentNumber string
	Question       string
}

// SanitizeDocumentNumber trims the value, drops every character outside
// [A-Za-z0-9-] and keeps at most MaxDocumentNumberLen characters.
func SanitizeDocumentNumber(s string) string {
	s = documentCharset.ReplaceAllString(strings.TrimSpace(s), "")
	if len(s) > MaxDocumentNumberLen {
		s = s[:MaxDocumentNumberLen]
	}
	return s
}

// Validate checks in before any I/O happens.
func Validate(in Input) (Validated, error) {
	if !clinical.ValidDocumentType(in.DocumentTypeID) {
		return Validated{}, &ValidationError{Reason: fmt.Sprintf("invalid document type: %d", in.DocumentTypeID)}
	}
	if strings.TrimSpace(in.DocumentNumber) == "" {
		return Validated{}, &ValidationError{Reason: "document number is empty"}
	}
	doc := SanitizeDocumentNumber(in.DocumentNumber)
	if doc == "" {
		return Validated{}, &ValidationError{Reason: "document number contains only invalid characters"}
	}
	if len(doc) < MinDocumentNumberLen {
		return Validated{}, &ValidationError{Reason: fmt.Sprintf("document number is too short (minimum %d characters)", MinDocumentNumberLen)}
	}

	question := strings.TrimSpace(in.Question)
	n := utf8.RuneCountInString(question)
	if n < MinQuestionLen {
		return Validated{}, &ValidationError{Reason: fmt.Sprintf("question must be at least %d characters", MinQuestionLen)}
	}
	if n > MaxQuestionLen {
		return Validated{}, &ValidationError{Reason: fmt.Sprintf("question cannot exceed %d characters", MaxQuestionLen)}
	}

	combined := in.DocumentNumber + " " + in.Question
	for _, p := range injectionPatterns {
		if p.MatchString(combined) {
			return Validated{}, &ValidationError{Reason: dangerousInputMessage, injection: true}
		}
	}
	return Validated{DocumentNumber: doc, Question: question}, nil
}
