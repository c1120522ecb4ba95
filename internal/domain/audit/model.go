package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry is what the query pipeline hands over once a response exists.
// SessionID is the raw client value and is parsed by the service.
type Entry struct {
	UserID         int64
	SessionID      string
	SequenceChatID int
	DocumentTypeID int
	DocumentNumber string
	Question       string
	Response       json.RawMessage
}

// Log is one persisted audit_logs row.
type Log struct {
	ID             int64           `json:"audit_log_id"`
	UserID         int64           `json:"user_id"`
	SessionID      uuid.UUID       `json:"session_id"`
	SequenceChatID int             `json:"sequence_chat_id"`
	DocumentTypeID int             `json:"document_type_id"`
	DocumentNumber string          `json:"document_number"`
	Question       string          `json:"question"`
	Response       json.RawMessage `json:"response,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
