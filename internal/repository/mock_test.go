package repository

import (
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"

	"fiscalhost/internal/domain"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool error: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		mock.Close()
	})
	return mock
}

func userFixture() domain.User {
	return domain.User{
		ID:                     "u1",
		AccountID:              "a1",
		Email:                  "x@example.com",
		EmailConfirmationToken: "tok",
		CreatedAt:              time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}
