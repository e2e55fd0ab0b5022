package domain

import "time"

const (
	TransactionKindCredit = "CREDIT"
	TransactionKindDebit  = "DEBIT"
)

// Transaction es el registro financiero que se traslada al fusionar cuentas.
type Transaction struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	FromAccountID string    `json:"from_account_id"`
	Kind          string    `json:"kind"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"created_at"`
}
