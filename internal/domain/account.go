package domain

import "time"

type AccountType string

const (
	AccountTypePerson       AccountType = "PERSON"
	AccountTypeOrganization AccountType = "ORGANIZATION"
	AccountTypeCollective   AccountType = "COLLECTIVE"
)

const (
	// DefaultGuestName es el nombre que recibe una cuenta invitada sin nombre.
	DefaultGuestName = "Guest"
	// IncognitoName reemplaza al nombre por defecto al confirmar sin nombre.
	IncognitoName   = "Incognito"
	GuestSlugPrefix = "guest-"
)

// LifecycleState reemplaza al filtrado implícito por deleted_at.
type LifecycleState string

const (
	LifecycleActive  LifecycleState = "active"
	LifecycleDeleted LifecycleState = "deleted"
)

type Location struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Country string `json:"country,omitempty"`
}

func (l Location) IsEmpty() bool {
	return l.Name == "" && l.Address == "" && l.Country == ""
}

// Account es el perfil público: persona, organización o invitado pendiente.
type Account struct {
	ID              string         `json:"id"`
	Type            AccountType    `json:"type"`
	Name            string         `json:"name"`
	Slug            string         `json:"slug"`
	IsGuest         bool           `json:"is_guest"`
	Location        Location       `json:"location"`
	Data            map[string]any `json:"data,omitempty"`
	CreatedByUserID *string        `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       *time.Time     `json:"-"`
}

func (a Account) State() LifecycleState {
	if a.DeletedAt != nil {
		return LifecycleDeleted
	}
	return LifecycleActive
}
