package query

import (
	"time"

	"github.com/smarthealth/clinqa/internal/domain/answer"
)

// Code identifies why a query produced an error envelope.
type Code string

const (
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodePatientNotFound   Code = "PATIENT_NOT_FOUND"
	CodeDatabaseError     Code = "DATABASE_ERROR"
	CodeContextBuildError Code = "CONTEXT_BUILD_ERROR"
	CodeRequestTimeout    Code = "REQUEST_TIMEOUT"
	CodeInternalError     Code = "INTERNAL_ERROR"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

const (
	// TimestampLayout is ISO-8601 UTC at second precision.
	TimestampLayout = "2006-01-02T15:04:05Z"
	dateLayout      = "2006-01-02"
)

// Timestamp formats t the way every envelope reports time.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Envelope is present on every response.
type Envelope struct {
	Status         string `json:"status"`
	SessionID      string `json:"session_id"`
	SequenceChatID int    `json:"sequence_chat_id"`
	Timestamp      string `json:"timestamp"`
}

type PatientSummary struct {
	PatientID      int64  `json:"patient_id"`
	FullName       string `json:"full_name"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
}

type Metadata struct {
	TotalRecordsAnalyzed int   `json:"total_records_analyzed"`
	QueryTimeMS          int64 `json:"query_time_ms"`
	SourcesUsed          int   `json:"sources_used"`
	ContextTokens        int   `json:"context_tokens"`
}

// Result is the body of a successful answer.
type Result struct {
	PatientInfo PatientSummary `json:"patient_info"`
	Answer      answer.Answer  `json:"answer"`
	Sources     []Source       `json:"sources"`
	Metadata    Metadata       `json:"metadata"`
}

type ErrorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Response is the query envelope. Exactly one of Result and Error is set;
// a nil *Result contributes no fields to the JSON.
type Response struct {
	Envelope
	*Result
	Error *ErrorBody `json:"error,omitempty"`
}

func (r *Response) Failed() bool {
	return r.Error != nil
}
