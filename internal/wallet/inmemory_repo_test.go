package wallet

import (
	"sync"

	"github.com/google/uuid"
)

// inMemoryRepo is a Repository double for service tests. Atomically
// snapshots all state and restores it when fn fails, mirroring the
// rollback behavior of the real database-backed repository.
type inMemoryRepo struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*Wallet
	txs     []*Transaction
	idem    map[string]*IdempotencyRecord

	creditErr error // fault injection: next CreditWallet fails with this
}

func newInMemoryRepo() *inMemoryRepo {
	return &inMemoryRepo{
		wallets: make(map[uuid.UUID]*Wallet),
		idem:    make(map[string]*IdempotencyRecord),
	}
}

func (r *inMemoryRepo) snapshot() ([]Wallet, []Transaction, []IdempotencyRecord) {
	wallets := make([]Wallet, 0, len(r.wallets))
	for _, w := range r.wallets {
		wallets = append(wallets, *w)
	}
	txs := make([]Transaction, 0, len(r.txs))
	for _, t := range r.txs {
		txs = append(txs, *t)
	}
	idem := make([]IdempotencyRecord, 0, len(r.idem))
	for _, rec := range r.idem {
		idem = append(idem, *rec)
	}
	return wallets, txs, idem
}

func (r *inMemoryRepo) restore(wallets []Wallet, txs []Transaction, idem []IdempotencyRecord) {
	r.wallets = make(map[uuid.UUID]*Wallet, len(wallets))
	for i := range wallets {
		w := wallets[i]
		r.wallets[w.ID] = &w
	}
	r.txs = make([]*Transaction, 0, len(txs))
	for i := range txs {
		t := txs[i]
		r.txs = append(r.txs, &t)
	}
	r.idem = make(map[string]*IdempotencyRecord, len(idem))
	for i := range idem {
		rec := idem[i]
		r.idem[rec.Token] = &rec
	}
}

func (r *inMemoryRepo) Atomically(fn func(Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wallets, txs, idem := r.snapshot()
	if err := fn(r); err != nil {
		r.restore(wallets, txs, idem)
		return err
	}
	return nil
}

func (r *inMemoryRepo) CreateWallet(w *Wallet) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	r.wallets[w.ID] = w
	return nil
}

func (r *inMemoryRepo) GetWalletByID(id uuid.UUID) (*Wallet, error) {
	if w, ok := r.wallets[id]; ok {
		copied := *w
		return &copied, nil
	}
	return nil, ErrWalletNotFound
}

func (r *inMemoryRepo) GetWalletByUserID(userID string) (*Wallet, error) {
	for _, w := range r.wallets {
		if w.UserID.String() == userID {
			copied := *w
			return &copied, nil
		}
	}
	return nil, ErrWalletNotFound
}

func (r *inMemoryRepo) GetWalletByNumber(number string) (*Wallet, error) {
	for _, w := range r.wallets {
		if w.WalletNumber == number {
			copied := *w
			return &copied, nil
		}
	}
	return nil, ErrWalletNotFound
}

func (r *inMemoryRepo) LockWalletByID(id uuid.UUID) (*Wallet, error) {
	return r.GetWalletByID(id)
}

func (r *inMemoryRepo) LockWalletByUserID(userID string) (*Wallet, error) {
	return r.GetWalletByUserID(userID)
}

func (r *inMemoryRepo) CreditWallet(walletID uuid.UUID, amount int64) error {
	if r.creditErr != nil {
		err := r.creditErr
		r.creditErr = nil
		return err
	}
	w, ok := r.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	w.Balance += amount
	return nil
}

func (r *inMemoryRepo) DebitWallet(walletID uuid.UUID, amount int64) error {
	w, ok := r.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Balance < amount {
		return ErrInsufficientFunds
	}
	w.Balance -= amount
	return nil
}

func (r *inMemoryRepo) CreateTransaction(tx *Transaction) error {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	copied := *tx
	r.txs = append(r.txs, &copied)
	return nil
}

func (r *inMemoryRepo) GetTransactionByID(id uuid.UUID) (*Transaction, error) {
	for _, t := range r.txs {
		if t.ID == id {
			copied := *t
			return &copied, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (r *inMemoryRepo) GetTransactionByReference(ref string) (*Transaction, error) {
	for _, t := range r.txs {
		if t.Reference == ref {
			copied := *t
			return &copied, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (r *inMemoryRepo) UpdateTransactionStatus(ref string, status TransactionStatus) error {
	for _, t := range r.txs {
		if t.Reference == ref {
			if t.Status != TransactionPending {
				return ErrTransactionFinalized
			}
			t.Status = status
			return nil
		}
	}
	return ErrTransactionNotFound
}

func (r *inMemoryRepo) ListTransactions(walletID string, limit, offset int) ([]Transaction, error) {
	var all []Transaction
	// newest first, like the database repository's created_at desc
	for i := len(r.txs) - 1; i >= 0; i-- {
		if r.txs[i].WalletID.String() == walletID {
			all = append(all, *r.txs[i])
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *inMemoryRepo) CountTransactions(walletID string) (int64, error) {
	var count int64
	for _, t := range r.txs {
		if t.WalletID.String() == walletID {
			count++
		}
	}
	return count, nil
}

func (r *inMemoryRepo) ReserveIdempotency(token string) (Reservation, error) {
	if existing, ok := r.idem[token]; ok {
		copied := *existing
		if existing.State == IdempotencyFinalized {
			return Reservation{State: ReservationFinalized, Record: &copied}, nil
		}
		return Reservation{State: ReservationInProgress, Record: &copied}, nil
	}
	record := &IdempotencyRecord{Token: token, State: IdempotencyReserved}
	r.idem[token] = record
	copied := *record
	return Reservation{State: ReservationNew, Record: &copied}, nil
}

func (r *inMemoryRepo) FinalizeIdempotency(token string, outcome IdempotencyOutcome, transactionID *uuid.UUID) error {
	record, ok := r.idem[token]
	if !ok {
		return ErrTransactionNotFound
	}
	record.State = IdempotencyFinalized
	record.Outcome = outcome
	record.TransactionID = transactionID
	return nil
}

func (r *inMemoryRepo) GetIdempotency(token string) (*IdempotencyRecord, error) {
	record, ok := r.idem[token]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	copied := *record
	return &copied, nil
}
