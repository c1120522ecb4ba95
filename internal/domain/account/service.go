package account

import (
	"context"
	"errors"
)

type Service struct {
	users UserRepository
}

func NewService(users UserRepository) *Service {
	return &Service{users: users}
}

// IsActive reports whether the account exists and is enabled. A missing
// account is not an error.
func (s *Service) IsActive(ctx context.Context, userID int64) (bool, error) {
	if userID <= 0 {
		return false, nil
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Active, nil
}
