package wallet

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedWallet(t *testing.T, repo *inMemoryRepo, balance int64) *Wallet {
	t.Helper()

	w := &Wallet{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		WalletNumber: GenerateWalletNumber(),
		Balance:      balance,
		Currency:     "NGN",
		IsActive:     true,
	}
	require.NoError(t, repo.CreateWallet(w))
	return w
}

func TestCreditDeposit_CreditsExactlyOnce(t *testing.T) {
	repo := newInMemoryRepo()
	svc := NewService(repo)
	w := seedWallet(t, repo, 1000)

	first, err := svc.CreditDeposit("dep-abc123", w.UserID.String(), 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), first.Balance)
	assert.False(t, first.Duplicate)

	// redelivery of the same reference must not credit again
	second, err := svc.CreditDeposit("dep-abc123", w.UserID.String(), 5000)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, int64(6000), second.Balance)

	stored, err := repo.GetWalletByID(w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), stored.Balance)

	count, err := repo.CountTransactions(w.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCreditDeposit_FinalizesInitializedDeposit(t *testing.T) {
	repo := newInMemoryRepo()
	svc := NewService(repo)
	w := seedWallet(t, repo, 0)

	pending, err := svc.RecordPendingDeposit(w.UserID.String(), "dep-pending1", 2500)
	require.NoError(t, err)
	assert.Equal(t, TransactionPending, pending.Status)

	_, err = svc.CreditDeposit("dep-pending1", w.UserID.String(), 2500)
	require.NoError(t, err)

	tx, err := repo.GetTransactionByReference("dep-pending1")
	require.NoError(t, err)
	assert.Equal(t, TransactionSuccess, tx.Status)

	count, err := repo.CountTransactions(w.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "the pending row should be reused, not duplicated")
}

func TestCreditDeposit_RejectsNonPositiveAmount(t *testing.T) {
	repo := newInMemoryRepo()
	svc := NewService(repo)
	w := seedWallet(t, repo, 0)

	for _, amount := range []int64{0, -100} {
		_, err := svc.CreditDeposit("dep-bad", w.UserID.String(), amount)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
}

func TestCreditDeposit_InProgressReservation(t *testing.T) {
	repo := newInMemoryRepo()
	svc := NewService(repo)
	w := seedWallet(t, repo, 0)

	// another worker holds the reservation and has not finalized yet
	_, err := repo.ReserveIdempotency("dep-racing")
	require.NoError(t, err)

	_, err = svc.CreditDeposit("dep-racing", w.UserID.String(), 1000)
	assert.ErrorIs(t, err, ErrDepositInProgress)
}

func TestCreditDeposit_FailureRollsBackAndRecordsOutcome(t *testing.T) {
	repo := newInMemoryRepo()
	svc := NewService(repo)
	w := seedWallet(t, repo, 1000)

	repo.creditErr = errors.New("storage offline")

	_, err := svc.CreditDeposit("dep-broken", w.UserID.String(), 4000)
	require.Error(t, err)

	stored, err := repo.GetWalletByID(w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored.Balance, "failed unit must leave the balance untouched")

	_, err = repo.GetTransactionByReference("dep-broken")
	assert.ErrorIs(t, err, ErrTransactionNotFound, "rolled-back ledger row must not survive")

	record, err := repo.GetIdempotency("dep-broken")
	require.NoError(t, err)
	assert.Equal(t, IdempotencyFinalized, record.State)
	assert.Equal(t, OutcomeFailed, record.Outcome)

	// redelivery returns the recorded failure instead of retrying the credit
	_, err = svc.CreditDeposit("dep-broken", w.UserID.String(), 4000)
	assert.ErrorIs(t, err, ErrDepositFailed)
}

func TestCreditDeposit_FailedRowIsImmutable(t *testing.T) {
	repo := newInMemoryRepo()
	svc := NewService(repo)
	w := seedWallet(t, repo, 0)

	_, err := svc.RecordPendingDeposit(w.UserID.String(), "dep-flip", 2500)
	require.NoError(t, err)
	require.NoError(t, svc.FailPendingDeposit("dep-flip"))

	// a later success notification must not rewrite the settled row
	_, err = svc.CreditDeposit("dep-flip", w.UserID.String(), 9000)
	assert.ErrorIs(t, err, ErrTransactionFinalized)

	tx, err := repo.GetTransactionByReference("dep-flip")
	require.NoError(t, err)
	assert.Equal(t, TransactionFailed, tx.Status)
	assert.Equal(t, int64(2500), tx.Amount)

	stored, err := repo.GetWalletByID(w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Balance)

	// the reference's outcome is recorded; redelivery gets it back
	_, err = svc.CreditDeposit("dep-flip", w.UserID.String(), 9000)
	assert.ErrorIs(t, err, ErrDepositFailed)
}

func TestCreditDeposit_RejectsAmountMismatch(t *testing.T) {
	repo := newInMemoryRepo()
	svc := NewService(repo)
	w := seedWallet(t, repo, 0)

	_, err := svc.RecordPendingDeposit(w.UserID.String(), "dep-mismatch", 2500)
	require.NoError(t, err)

	_, err = svc.CreditDeposit("dep-mismatch", w.UserID.String(), 9000)
	assert.ErrorIs(t, err, ErrAmountMismatch)

	tx, err := repo.GetTransactionByReference("dep-mismatch")
	require.NoError(t, err)
	assert.Equal(t, TransactionPending, tx.Status)
	assert.Equal(t, int64(2500), tx.Amount)

	stored, err := repo.GetWalletByID(w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Balance)
}

func TestCreditDeposit_InactiveWallet(t *testing.T) {
	repo := newInMemoryRepo()
	svc := NewService(repo)
	w := seedWallet(t, repo, 0)
	repo.wallets[w.ID].IsActive = false

	_, err := svc.CreditDeposit("dep-frozen", w.UserID.String(), 1000)
	assert.ErrorIs(t, err, ErrWalletInactive)

	stored, err := repo.GetWalletByID(w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Balance)
}

func TestFailPendingDeposit(t *testing.T) {
	repo := newInMemoryRepo()
	svc := NewService(repo)
	w := seedWallet(t, repo, 0)

	_, err := svc.RecordPendingDeposit(w.UserID.String(), "dep-nope", 700)
	require.NoError(t, err)

	require.NoError(t, svc.FailPendingDeposit("dep-nope"))

	tx, err := repo.GetTransactionByReference("dep-nope")
	require.NoError(t, err)
	assert.Equal(t, TransactionFailed, tx.Status)

	// finalized rows are left as they are
	require.NoError(t, svc.FailPendingDeposit("dep-nope"))
	tx, err = repo.GetTransactionByReference("dep-nope")
	require.NoError(t, err)
	assert.Equal(t, TransactionFailed, tx.Status)
}

func TestTransfer_MovesFundsAndRecordsBothLegs(t *testing.T) {
	repo := newInMemoryRepo()
	svc := NewService(repo)
	src := seedWallet(t, repo, 10000)
	dst := seedWallet(t, repo, 500)

	result, err := svc.Transfer(src.UserID.String(), dst.WalletNumber, 3000, "rent", "")
	require.NoError(t, err)
	assert.Equal(t, int64(7000), result.Balance)

	srcStored, _ := repo.GetWalletByID(src.ID)
	dstStored, _ := repo.GetWalletByID(dst.ID)
	assert.Equal(t, int64(7000), srcStored.Balance)
	assert.Equal(t, int64(3500), dstStored.Balance)
	assert.Equal(t, int64(10500), srcStored.Balance+dstStored.Balance, "transfers conserve total funds")

	debit, err := repo.GetTransactionByReference(result.Reference + "-debit")
	require.NoError(t, err)
	credit, err := repo.GetTransactionByReference(result.Reference + "-credit")
	require.NoError(t, err)

	assert.Equal(t, KindTransferDebit, debit.Kind)
	assert.Equal(t, KindTransferCredit, credit.Kind)
	assert.Equal(t, src.ID, debit.WalletID)
	assert.Equal(t, dst.ID, credit.WalletID)
	assert.Equal(t, debit.Amount, credit.Amount)
	require.NotNil(t, debit.CounterpartyWalletNumber)
	require.NotNil(t, credit.CounterpartyWalletNumber)
	assert.Equal(t, dst.WalletNumber, *debit.CounterpartyWalletNumber)
	assert.Equal(t, src.WalletNumber, *credit.CounterpartyWalletNumber)
}

func TestTransfer_RejectsSelfTransfer(t *testing.T) {
	repo := newInMemoryRepo()
	svc := NewService(repo)
	src := seedWallet(t, repo, 10000)

	_, err := svc.Transfer(src.UserID.String(), src.WalletNumber, 1000, "", "")
	assert.ErrorIs(t, err, ErrSelfTransfer)

	stored, _ := repo.GetWalletByID(src.ID)
	assert.Equal(t, int64(10000), stored.Balance)
}

func TestTransfer_InsufficientFundsLeavesLedgerUntouched(t *testing.T) {
	repo := newInMemoryRepo()
	svc := NewService(repo)
	src := seedWallet(t, repo, 100)
	dst := seedWallet(t, repo, 0)

	_, err := svc.Transfer(src.UserID.String(), dst.WalletNumber, 500, "", "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	srcStored, _ := repo.GetWalletByID(src.ID)
	dstStored, _ := repo.GetWalletByID(dst.ID)
	assert.Equal(t, int64(100), srcStored.Balance)
	assert.Equal(t, int64(0), dstStored.Balance)

	count, err := repo.CountTransactions(src.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestTransfer_UnknownDestination(t *testing.T) {
	repo := newInMemoryRepo()
	svc := NewService(repo)
	src := seedWallet(t, repo, 10000)

	_, err := svc.Transfer(src.UserID.String(), "0000000000000", 1000, "", "")
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestTransfer_InactiveDestination(t *testing.T) {
	repo := newInMemoryRepo()
	svc := NewService(repo)
	src := seedWallet(t, repo, 10000)
	dst := seedWallet(t, repo, 0)
	repo.wallets[dst.ID].IsActive = false

	_, err := svc.Transfer(src.UserID.String(), dst.WalletNumber, 1000, "", "")
	assert.ErrorIs(t, err, ErrWalletInactive)
}

func TestTransfer_IdempotencyKeyReplay(t *testing.T) {
	repo := newInMemoryRepo()
	svc := NewService(repo)
	src := seedWallet(t, repo, 10000)
	dst := seedWallet(t, repo, 0)

	first, err := svc.Transfer(src.UserID.String(), dst.WalletNumber, 2000, "", "idem-xyz")
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := svc.Transfer(src.UserID.String(), dst.WalletNumber, 2000, "", "idem-xyz")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Reference, second.Reference)

	srcStored, _ := repo.GetWalletByID(src.ID)
	dstStored, _ := repo.GetWalletByID(dst.ID)
	assert.Equal(t, int64(8000), srcStored.Balance, "replayed submission must move funds once")
	assert.Equal(t, int64(2000), dstStored.Balance)
}

// lockOrderRepo records the order in which wallet row locks are taken.
type lockOrderRepo struct {
	*inMemoryRepo
	locked []uuid.UUID
}

func (r *lockOrderRepo) LockWalletByID(id uuid.UUID) (*Wallet, error) {
	r.locked = append(r.locked, id)
	return r.inMemoryRepo.LockWalletByID(id)
}

func (r *lockOrderRepo) Atomically(fn func(Repository) error) error {
	return r.inMemoryRepo.Atomically(func(Repository) error {
		return fn(r)
	})
}

func TestTransfer_LocksWalletsInAscendingIDOrder(t *testing.T) {
	inner := newInMemoryRepo()
	repo := &lockOrderRepo{inMemoryRepo: inner}
	svc := NewService(repo)

	a := seedWallet(t, inner, 10000)
	b := seedWallet(t, inner, 10000)

	low, high := a.ID, b.ID
	if high.String() < low.String() {
		low, high = high, low
	}

	_, err := svc.Transfer(a.UserID.String(), b.WalletNumber, 1000, "", "")
	require.NoError(t, err)
	require.Len(t, repo.locked, 2)
	assert.Equal(t, low, repo.locked[0])
	assert.Equal(t, high, repo.locked[1])

	// the opposite direction must take the locks in the same order
	repo.locked = nil
	_, err = svc.Transfer(b.UserID.String(), a.WalletNumber, 1000, "", "")
	require.NoError(t, err)
	require.Len(t, repo.locked, 2)
	assert.Equal(t, low, repo.locked[0])
	assert.Equal(t, high, repo.locked[1])
}

func TestReserveIdempotency_SingleWinner(t *testing.T) {
	repo := newInMemoryRepo()

	first, err := repo.ReserveIdempotency("token-1")
	require.NoError(t, err)
	assert.Equal(t, ReservationNew, first.State)

	// a concurrent claimant observes the reservation, never a second win
	second, err := repo.ReserveIdempotency("token-1")
	require.NoError(t, err)
	assert.Equal(t, ReservationInProgress, second.State)

	txID := uuid.New()
	require.NoError(t, repo.FinalizeIdempotency("token-1", OutcomeSuccess, &txID))

	third, err := repo.ReserveIdempotency("token-1")
	require.NoError(t, err)
	assert.Equal(t, ReservationFinalized, third.State)
	assert.Equal(t, OutcomeSuccess, third.Record.Outcome)
	require.NotNil(t, third.Record.TransactionID)
	assert.Equal(t, txID, *third.Record.TransactionID)
}

func TestStatusOf_NeverMutates(t *testing.T) {
	repo := newInMemoryRepo()
	svc := NewService(repo)
	w := seedWallet(t, repo, 0)

	_, err := svc.RecordPendingDeposit(w.UserID.String(), "dep-status", 900)
	require.NoError(t, err)

	tx, err := svc.StatusOf("dep-status")
	require.NoError(t, err)
	assert.Equal(t, TransactionPending, tx.Status)

	stored, _ := repo.GetWalletByID(w.ID)
	assert.Equal(t, int64(0), stored.Balance, "status query must not credit")

	_, err = svc.StatusOf("dep-missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestListTransactions_PaginatesNewestFirst(t *testing.T) {
	repo := newInMemoryRepo()
	svc := NewService(repo)
	w := seedWallet(t, repo, 0)

	references := []string{"dep-1", "dep-2", "dep-3"}
	for _, ref := range references {
		_, err := svc.CreditDeposit(ref, w.UserID.String(), 100)
		require.NoError(t, err)
	}

	page, total, err := svc.ListTransactions(w.UserID.String(), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 2)
	assert.Equal(t, "dep-3", page[0].Reference)
	assert.Equal(t, "dep-2", page[1].Reference)

	rest, total, err := svc.ListTransactions(w.UserID.String(), 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, rest, 1)
	assert.Equal(t, "dep-1", rest[0].Reference)
}
