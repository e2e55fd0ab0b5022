package domain

import "time"

// GuestToken permite actuar como una cuenta invitada sin autenticarse.
type GuestToken struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	Value     string     `json:"value"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"-"`
}
