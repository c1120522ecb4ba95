package account

import "time"

// User is the authenticated account that owns audit entries. Registration and
// profile management happen elsewhere; this service only reads it.
type User struct {
	ID        int64     `db:"user_id" json:"user_id"`
	Email     string    `db:"email" json:"email"`
	Active    bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
