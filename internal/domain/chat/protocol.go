package chat

import (
	"strings"

	"github.com/smarthealth/clinqa/internal/domain/query"
	"github.com/smarthealth/clinqa/internal/platform/middleware"
)

// Inbound message types.
const (
	TypePing  = "ping"
	TypeQuery = "query"
)

// Outbound message types.
const (
	TypeConnected   = "connected"
	TypeStatus      = "status"
	TypeStreamStart = "stream_start"
	TypeToken       = "token"
	TypeStreamEnd   = "stream_end"
	TypeComplete    = "complete"
	TypeError       = "error"
	TypePong        = "pong"
)

type ErrorCode string

const (
	CodeMessageTooLarge    ErrorCode = "MESSAGE_TOO_LARGE"
	CodeInvalidJSON        ErrorCode = "INVALID_JSON"
	CodeRateLimitExceeded  ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
	CodePatientNotFound    ErrorCode = "PATIENT_NOT_FOUND"
	CodeProcessingError    ErrorCode = "PROCESSING_ERROR"
	CodeUnknownMessageType ErrorCode = "UNKNOWN_MESSAGE_TYPE"
	CodeInternalError      ErrorCode = "INTERNAL_ERROR"
)

// Status texts sent while a query runs.
const (
	StatusSearchingPatient   = "searching patient"
	StatusAnalyzingRecords   = "analyzing records"
	StatusGeneratingResponse = "generating response"
)

// Truncation limits applied to inbound text before validation. The
// document number is left whole so the injection scan sees all of it;
// query.Validate cuts it after scanning.
const (
	maxQuestionRunes = 1000
	maxSessionRunes  = 100
)

type envelope struct {
	Type string `json:"type"`
}

type connectedMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	UserID    int64  `json:"user_id"`
	Timestamp string `json:"timestamp"`
}

type statusMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type tokenMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type pongMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type errorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type errorMessage struct {
	Type  string      `json:"type"`
	Error errorDetail `json:"error"`
}

// completeMessage carries the same result fields as the REST response.
type completeMessage struct {
	Type           string `json:"type"`
	SessionID      string `json:"session_id"`
	SequenceChatID int    `json:"sequence_chat_id"`
	Timestamp      string `json:"timestamp"`
	*query.Result
}

type queryMessage struct {
	SessionID      string
	DocumentTypeID int
	DocumentNumber string
	Question       string
}

// sanitizeText drops control characters other than newline and carriage
// return, keeps at most limit runes (all of them when limit is 0) and trims
// surrounding space.
func sanitizeText(s string, limit int) string {
	s = middleware.SanitizeString(s)
	n := 0
	for i := range s {
		if limit > 0 && n == limit {
			s = s[:i]
			break
		}
		n++
	}
	return strings.TrimSpace(s)
}

// statusFor maps pipeline stages to the status texts clients display.
func statusFor(s query.Stage) (string, bool) {
	switch s {
	case query.StagePatientLookup:
		return StatusSearchingPatient, true
	case query.StageRetrieving:
		return StatusAnalyzingRecords, true
	case query.StageGenerating:
		return StatusGeneratingResponse, true
	}
	return "", false
}

// errorCodeFor maps a query envelope code onto the channel's codes.
func errorCodeFor(c query.Code) ErrorCode {
	switch c {
	case query.CodeInvalidInput:
		return CodeInvalidRequest
	case query.CodePatientNotFound:
		return CodePatientNotFound
	default:
		return CodeProcessingError
	}
}
