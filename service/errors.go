package service

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/manodhiambo/school-management-system-sub003/mpesa"
	"gorm.io/gorm"
)

// Error categories. Callers branch with errors.Is.
var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrGateway        = errors.New("payment gateway unavailable")
	ErrGatewayTimeout = errors.New("payment gateway timed out")
	ErrReconciliation = errors.New("reconciliation error")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// gatewayError keeps the upstream *mpesa.Error reachable through errors.As.
func gatewayError(err error) error {
	var ge *mpesa.Error
	if errors.As(err, &ge) && ge.Timeout() {
		return fmt.Errorf("%w: %w", ErrGatewayTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrGateway, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
