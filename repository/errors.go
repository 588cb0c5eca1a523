package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Application error codes surfaced through RepositoryError.Code
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInsufficientStock = "INSUFFICIENT_STOCK"
	ErrCodeNotFound          = "ENTITY_NOT_FOUND"
	ErrCodeInvalidState      = "INVALID_STATE"
	ErrCodeDatabase          = "DATABASE_ERROR"
)

// PostgreSQL error codes as constants
const (
	// Class 23 — Integrity Constraint Violation
	PgErrForeignKeyViolation = "23503" // foreign_key_violation
	PgErrUniqueViolation     = "23505" // unique_violation
	PgErrCheckViolation      = "23514" // check_violation
	PgErrNotNullViolation    = "23502" // not_null_violation

	// Class 08 — Connection Exception
	PgErrConnectionException = "08000" // connection_exception
	PgErrConnectionFailure   = "08006" // connection_failure

	// Class 40 — Transaction Rollback
	PgErrTransactionRollback = "40000" // transaction_rollback
)

// RepositoryError represents an error in the repository layer (db/validation)
type RepositoryError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`

	// Populated for INSUFFICIENT_STOCK so callers can adjust quantities
	MedicationID int64 `json:"medication_id,omitempty"`
	Have         int   `json:"have,omitempty"`
	Need         int   `json:"need,omitempty"`
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func validationError(message string) *RepositoryError {
	return &RepositoryError{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

func notFoundError(message, detail string) *RepositoryError {
	return &RepositoryError{
		Code:    ErrCodeNotFound,
		Message: message,
		Detail:  detail,
	}
}

func insufficientStockError(medicationID int64, have, need int) *RepositoryError {
	return &RepositoryError{
		Code:         ErrCodeInsufficientStock,
		Message:      fmt.Sprintf("Insufficient stock for medication #%d (Have %d, Need %d)", medicationID, have, need),
		MedicationID: medicationID,
		Have:         have,
		Need:         need,
	}
}

// databaseError maps a driver error to a RepositoryError, preserving the
// Postgres error code when one is available.
func databaseError(err error) *RepositoryError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &RepositoryError{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
		}
	}
	return &RepositoryError{
		Code:    ErrCodeDatabase,
		Message: "A database error occurred",
		Detail:  err.Error(),
	}
}
