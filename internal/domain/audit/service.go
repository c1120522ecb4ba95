package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidSession  = errors.New("session id is not a valid UUID")
	ErrInactiveUser    = errors.New("user is missing or inactive")
	ErrSessionNotFound = errors.New("session not found")
)

// ActiveChecker reports whether an account may own audit rows.
type ActiveChecker interface {
	IsActive(ctx context.Context, userID int64) (bool, error)
}

type Service struct {
	repo     Repository
	accounts ActiveChecker
	logger   zerolog.Logger
}

func NewService(repo Repository, accounts ActiveChecker, logger zerolog.Logger) *Service {
	return &Service{repo: repo, accounts: accounts, logger: logger.With().Str("component", "audit").Logger()}
}

// NextSequence returns the position of the next query in a session: one past
// the highest audited sequence. It falls back to 1 when the session id is not
// a UUID or the lookup fails.
func (s *Service) NextSequence(ctx context.Context, userID int64, sessionID string) int {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return 1
	}
	seq, err := s.repo.MaxSequence(ctx, userID, sid)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("sequence lookup failed, starting at 1")
		return 1
	}
	return seq + 1
}

// Record persists e. It refuses entries whose session id is not a UUID or
// whose user is not an active account.
func (s *Service) Record(ctx context.Context, e Entry) error {
	sid, err := uuid.Parse(e.SessionID)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidSession, e.SessionID)
	}
	active, err := s.accounts.IsActive(ctx, e.UserID)
	if err != nil {
		return fmt.Errorf("check user %d: %w", e.UserID, err)
	}
	if !active {
		return fmt.Errorf("%w: %d", ErrInactiveUser, e.UserID)
	}

	l := &Log{
		UserID:         e.UserID,
		SessionID:      sid,
		SequenceChatID: e.SequenceChatID,
		DocumentTypeID: e.DocumentTypeID,
		DocumentNumber: e.DocumentNumber,
		Question:       e.Question,
		Response:       e.Response,
	}
	if err := s.repo.Insert(ctx, l); err != nil {
		return err
	}
	s.logger.Debug().Int64("audit_log_id", l.ID).Int("sequence_chat_id", l.SequenceChatID).Msg("audit log stored")
	return nil
}

func (s *Service) ListHistory(ctx context.Context, userID int64, limit, offset int) ([]*Log, int, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// SessionHistory returns the caller's entries for one session, or
// ErrSessionNotFound when there are none.
func (s *Service) SessionHistory(ctx context.Context, userID int64, sessionID uuid.UUID) ([]*Log, error) {
	logs, err := s.repo.ListBySession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, ErrSessionNotFound
	}
	return logs, nil
}
