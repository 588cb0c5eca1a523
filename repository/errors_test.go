package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestInsufficientStockErrorCarriesCounts(t *testing.T) {
	err := insufficientStockError(3, 1, 5)

	if err.Code != ErrCodeInsufficientStock {
		t.Errorf("unexpected code %s", err.Code)
	}
	if err.MedicationID != 3 || err.Have != 1 || err.Need != 5 {
		t.Errorf("counts lost: %+v", err)
	}
	want := "Insufficient stock for medication #3 (Have 1, Need 5)"
	if err.Message != want {
		t.Errorf("message %q, want %q", err.Message, want)
	}
}

func TestDatabaseErrorPreservesPgCode(t *testing.T) {
	pgErr := &pgconn.PgError{Code: PgErrUniqueViolation, Message: "duplicate key", Detail: "Key (uid) already exists."}
	wrapped := fmt.Errorf("create failed: %w", pgErr)

	err := databaseError(wrapped)
	if err.Code != PgErrUniqueViolation {
		t.Errorf("expected pg code %s, got %s", PgErrUniqueViolation, err.Code)
	}
	if err.Detail != "Key (uid) already exists." {
		t.Errorf("detail lost: %q", err.Detail)
	}
}

func TestDatabaseErrorFallsBackToGenericCode(t *testing.T) {
	err := databaseError(errors.New("connection reset"))
	if err.Code != ErrCodeDatabase {
		t.Errorf("expected %s, got %s", ErrCodeDatabase, err.Code)
	}
}

func TestRepositoryErrorString(t *testing.T) {
	err := notFoundError("Order not found", "Order with id 9 does not exist")
	if got := err.Error(); got != "ENTITY_NOT_FOUND: Order not found" {
		t.Errorf("unexpected Error() %q", got)
	}
}
