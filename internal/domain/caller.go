package domain

// Caller describe quién origina la request: cuenta autenticada (si la hay),
// IP y locale.
type Caller struct {
	UserID    string
	AccountID string
	IP        string
	Locale    string
}

func (c Caller) Authenticated() bool {
	return c.UserID != ""
}
