package txn

import "errors"

var (
	// ErrUnknownTransaction is returned when an operation names a
	// transaction that was never begun (or already ended).
	ErrUnknownTransaction = errors.New("txn: unknown transaction")

	// ErrAlreadyRunning is returned by Begin/BeginReadOnly when the
	// transaction name is already in use by a live transaction.
	ErrAlreadyRunning = errors.New("txn: transaction name already in use")

	// ErrUnknownVariable is returned when an instruction names a
	// variable index outside the configured range.
	ErrUnknownVariable = errors.New("txn: unknown variable")
)
