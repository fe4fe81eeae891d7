package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"kobovault/pkg/id"
)

// Service is the ledger engine. It owns every balance mutation: deposits
// credited from verified gateway notifications and transfers between
// wallets. All shared state lives in the repository; each operation runs
// inside one atomic unit so concurrent callers only observe committed
// states.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

type DepositResult struct {
	Reference string `json:"reference"`
	Balance   int64  `json:"balance"`
	Duplicate bool   `json:"duplicate"`
}

type TransferResult struct {
	Reference string `json:"reference"`
	Balance   int64  `json:"balance"`
	Duplicate bool   `json:"duplicate"`
}

// RecordPendingDeposit registers a gateway deposit that has been
// initialized but not yet confirmed. The row stays PENDING until the
// gateway notification arrives and CreditDeposit finalizes it.
func (s *Service) RecordPendingDeposit(userID, reference string, amount int64) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	wallet, err := s.repo.GetWalletByUserID(userID)
	if err != nil {
		return nil, err
	}
	if !wallet.IsActive {
		return nil, ErrWalletInactive
	}

	tx := &Transaction{
		WalletID:    wallet.ID,
		Reference:   reference,
		Kind:        KindDeposit,
		Amount:      amount,
		Status:      TransactionPending,
		Description: "Wallet deposit via Paystack",
	}
	if err := s.repo.CreateTransaction(tx); err != nil {
		return nil, fmt.Errorf("record pending deposit: %w", err)
	}
	return tx, nil
}

// CreditDeposit applies a verified gateway notification to the owning
// wallet exactly once. Callers must have verified the notification's
// authenticity already; this method never re-checks it. Redelivery of an
// already-finalized reference returns the recorded outcome without a
// second credit.
func (s *Service) CreditDeposit(reference, userID string, amount int64) (*DepositResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	reservation, err := s.repo.ReserveIdempotency(reference)
	if err != nil {
		return nil, err
	}

	switch reservation.State {
	case ReservationFinalized:
		return s.recordedDepositOutcome(reference, userID, reservation.Record)
	case ReservationInProgress:
		return nil, ErrDepositInProgress
	}

	var result DepositResult
	err = s.repo.Atomically(func(r Repository) error {
		wallet, err := r.LockWalletByUserID(userID)
		if err != nil {
			return err
		}
		if !wallet.IsActive {
			return ErrWalletInactive
		}

		tx, err := r.GetTransactionByReference(reference)
		switch {
		case err == nil:
			// Initialized deposit: flip the pending row to SUCCESS. A row
			// that already left PENDING is immutable, and a notification
			// whose amount disagrees with the initialized amount must not
			// credit against it.
			if tx.Status != TransactionPending {
				return ErrTransactionFinalized
			}
			if tx.Amount != amount {
				return ErrAmountMismatch
			}
			if err := r.UpdateTransactionStatus(reference, TransactionSuccess); err != nil {
				return err
			}
		case errors.Is(err, ErrTransactionNotFound):
			tx = &Transaction{
				WalletID:    wallet.ID,
				Reference:   reference,
				Kind:        KindDeposit,
				Amount:      amount,
				Status:      TransactionSuccess,
				Description: "Wallet deposit via Paystack",
			}
			if err := r.CreateTransaction(tx); err != nil {
				return err
			}
		default:
			return err
		}

		if err := r.CreditWallet(wallet.ID, amount); err != nil {
			return err
		}
		if err := r.FinalizeIdempotency(reference, OutcomeSuccess, &tx.ID); err != nil {
			return err
		}

		result = DepositResult{Reference: reference, Balance: wallet.Balance + amount}
		return nil
	})
	if err != nil {
		// The unit rolled back in full. Record the failed outcome so
		// redelivery returns it instead of re-running against the token.
		if finErr := s.repo.FinalizeIdempotency(reference, OutcomeFailed, nil); finErr != nil {
			return nil, fmt.Errorf("finalize failed deposit %s: %v (original: %w)", reference, finErr, err)
		}
		return nil, fmt.Errorf("credit deposit %s: %w", reference, err)
	}

	return &result, nil
}

func (s *Service) recordedDepositOutcome(reference, userID string, record *IdempotencyRecord) (*DepositResult, error) {
	if record.Outcome == OutcomeFailed {
		return nil, ErrDepositFailed
	}

	wallet, err := s.repo.GetWalletByUserID(userID)
	if err != nil {
		return nil, err
	}
	return &DepositResult{Reference: reference, Balance: wallet.Balance, Duplicate: true}, nil
}

// FailPendingDeposit marks an initialized deposit as failed after the
// gateway reported the charge did not go through. Already-finalized rows
// are left untouched.
func (s *Service) FailPendingDeposit(reference string) error {
	tx, err := s.repo.GetTransactionByReference(reference)
	if err != nil {
		return err
	}
	if tx.Status != TransactionPending {
		return nil
	}
	err = s.repo.UpdateTransactionStatus(reference, TransactionFailed)
	if errors.Is(err, ErrTransactionFinalized) {
		// Lost the race to another finalizer; the row is settled.
		return nil
	}
	return err
}

// Transfer moves amount from the caller's wallet to the wallet identified
// by destNumber. Both balance changes and both ledger rows commit in one
// atomic unit. An optional caller-supplied idempotencyKey makes the
// submission at-most-once.
func (s *Service) Transfer(userID, destNumber string, amount int64, description, idempotencyKey string) (*TransferResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	source, err := s.repo.GetWalletByUserID(userID)
	if err != nil {
		return nil, err
	}
	if source.WalletNumber == destNumber {
		return nil, ErrSelfTransfer
	}

	dest, err := s.repo.GetWalletByNumber(destNumber)
	if err != nil {
		return nil, err
	}
	if !source.IsActive || !dest.IsActive {
		return nil, ErrWalletInactive
	}

	if idempotencyKey != "" {
		reservation, err := s.repo.ReserveIdempotency(idempotencyKey)
		if err != nil {
			return nil, err
		}
		switch reservation.State {
		case ReservationFinalized:
			return s.recordedTransferOutcome(reservation.Record)
		case ReservationInProgress:
			return nil, ErrTransferInProgress
		}
	}

	reference := fmt.Sprintf("trf-%s", id.Generate())

	var result TransferResult
	err = s.repo.Atomically(func(r Repository) error {
		src, dst, err := lockPair(r, source.ID, dest.ID)
		if err != nil {
			return err
		}
		if !src.IsActive || !dst.IsActive {
			return ErrWalletInactive
		}
		// Authoritative balance check; the pre-flight read above was
		// advisory only.
		if src.Balance < amount {
			return ErrInsufficientFunds
		}

		if err := r.DebitWallet(src.ID, amount); err != nil {
			return err
		}
		if err := r.CreditWallet(dst.ID, amount); err != nil {
			return err
		}

		debitTx := &Transaction{
			WalletID:                 src.ID,
			Reference:                reference + "-debit",
			Kind:                     KindTransferDebit,
			Amount:                   amount,
			Status:                   TransactionSuccess,
			CounterpartyWalletNumber: &dst.WalletNumber,
			Description:              description,
		}
		if err := r.CreateTransaction(debitTx); err != nil {
			return err
		}

		creditTx := &Transaction{
			WalletID:                 dst.ID,
			Reference:                reference + "-credit",
			Kind:                     KindTransferCredit,
			Amount:                   amount,
			Status:                   TransactionSuccess,
			CounterpartyWalletNumber: &src.WalletNumber,
			Description:              description,
		}
		if err := r.CreateTransaction(creditTx); err != nil {
			return err
		}

		if idempotencyKey != "" {
			if err := r.FinalizeIdempotency(idempotencyKey, OutcomeSuccess, &debitTx.ID); err != nil {
				return err
			}
		}

		result = TransferResult{Reference: reference, Balance: src.Balance - amount}
		return nil
	})
	if err != nil {
		if idempotencyKey != "" {
			if finErr := s.repo.FinalizeIdempotency(idempotencyKey, OutcomeFailed, nil); finErr != nil {
				return nil, fmt.Errorf("finalize failed transfer: %v (original: %w)", finErr, err)
			}
		}
		return nil, err
	}

	return &result, nil
}

func (s *Service) recordedTransferOutcome(record *IdempotencyRecord) (*TransferResult, error) {
	if record.Outcome == OutcomeFailed || record.TransactionID == nil {
		return nil, ErrTransferFailed
	}

	debitTx, err := s.repo.GetTransactionByID(*record.TransactionID)
	if err != nil {
		return nil, err
	}

	wallet, err := s.repo.GetWalletByID(debitTx.WalletID)
	if err != nil {
		return nil, err
	}

	return &TransferResult{
		Reference: strings.TrimSuffix(debitTx.Reference, "-debit"),
		Balance:   wallet.Balance,
		Duplicate: true,
	}, nil
}

// lockPair acquires exclusive locks on both wallets in ascending ID order
// so two opposing transfers on the same pair cannot deadlock.
func lockPair(r Repository, sourceID, destID uuid.UUID) (*Wallet, *Wallet, error) {
	first, second := sourceID, destID
	if second.String() < first.String() {
		first, second = second, first
	}

	w1, err := r.LockWalletByID(first)
	if err != nil {
		return nil, nil, err
	}
	w2, err := r.LockWalletByID(second)
	if err != nil {
		return nil, nil, err
	}

	if w1.ID == sourceID {
		return w1, w2, nil
	}
	return w2, w1, nil
}

// StatusOf is a read-only status query. It never mutates a wallet:
// checking a deposit's status must not itself trigger crediting.
func (s *Service) StatusOf(reference string) (*Transaction, error) {
	return s.repo.GetTransactionByReference(reference)
}

// ListTransactions returns a page of the wallet's ledger history, newest
// first, along with the total row count.
func (s *Service) ListTransactions(userID string, limit, offset int) ([]Transaction, int64, error) {
	wallet, err := s.repo.GetWalletByUserID(userID)
	if err != nil {
		return nil, 0, err
	}

	txs, err := s.repo.ListTransactions(wallet.ID.String(), limit, offset)
	if err != nil {
		return nil, 0, err
	}

	count, err := s.repo.CountTransactions(wallet.ID.String())
	if err != nil {
		return nil, 0, err
	}
	return txs, count, nil
}
