package domain

import "time"

// User es la identidad con login asociada 1-1 a su cuenta personal.
type User struct {
	ID                     string     `json:"id"`
	AccountID              string     `json:"account_id"`
	Email                  string     `json:"email"`
	ConfirmedAt            *time.Time `json:"confirmed_at,omitempty"`
	EmailConfirmationToken string     `json:"-"`
	CreatedAt              time.Time  `json:"created_at"`
	DeletedAt              *time.Time `json:"-"`
}

func (u User) IsConfirmed() bool {
	return u.ConfirmedAt != nil
}
