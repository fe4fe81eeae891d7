package wallet

import "errors"

var (
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrSelfTransfer      = errors.New("cannot transfer to own wallet")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrWalletInactive    = errors.New("wallet is inactive")
	ErrInsufficientFunds = errors.New("insufficient balance")

	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrTransactionFinalized means the ledger row already left PENDING.
	// Finalized rows are immutable; corrections are new compensating rows.
	ErrTransactionFinalized = errors.New("transaction already finalized")

	// ErrAmountMismatch means a gateway notification's amount disagrees
	// with the amount recorded when the deposit was initialized.
	ErrAmountMismatch = errors.New("notification amount does not match initialized amount")

	// ErrDepositInProgress means another handler holds the idempotency
	// reservation for the same reference. Callers should back off and
	// poll status instead of proceeding.
	ErrDepositInProgress = errors.New("deposit already in progress")

	// ErrDepositFailed is the recorded outcome of a reference whose
	// crediting attempt rolled back. Redelivery of the same reference
	// is not retried against it.
	ErrDepositFailed = errors.New("deposit previously failed")

	ErrTransferInProgress = errors.New("transfer already in progress")
	ErrTransferFailed     = errors.New("transfer previously failed")
)
