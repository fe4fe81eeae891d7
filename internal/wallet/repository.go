package wallet

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReservationState is the result of attempting to reserve an idempotency
// token: exactly one caller wins a new reservation, later callers observe
// in-progress or the finalized outcome.
type ReservationState int

const (
	ReservationNew ReservationState = iota
	ReservationInProgress
	ReservationFinalized
)

type Reservation struct {
	State  ReservationState
	Record *IdempotencyRecord
}

type Repository interface {
	CreateWallet(wallet *Wallet) error
	GetWalletByID(id uuid.UUID) (*Wallet, error)
	GetWalletByUserID(userID string) (*Wallet, error)
	GetWalletByNumber(number string) (*Wallet, error)

	// LockWalletByID reads a wallet row under an exclusive row lock.
	// Only meaningful inside Atomically.
	LockWalletByID(id uuid.UUID) (*Wallet, error)
	LockWalletByUserID(userID string) (*Wallet, error)
	CreditWallet(walletID uuid.UUID, amount int64) error
	DebitWallet(walletID uuid.UUID, amount int64) error

	CreateTransaction(tx *Transaction) error
	GetTransactionByID(id uuid.UUID) (*Transaction, error)
	GetTransactionByReference(ref string) (*Transaction, error)
	// UpdateTransactionStatus finalizes a PENDING row. Rows that already
	// left PENDING are immutable; attempts return ErrTransactionFinalized.
	UpdateTransactionStatus(ref string, status TransactionStatus) error
	ListTransactions(walletID string, limit, offset int) ([]Transaction, error)
	CountTransactions(walletID string) (int64, error)

	ReserveIdempotency(token string) (Reservation, error)
	FinalizeIdempotency(token string, outcome IdempotencyOutcome, transactionID *uuid.UUID) error
	GetIdempotency(token string) (*IdempotencyRecord, error)

	// Atomically runs fn against a repository bound to a single database
	// transaction. Every write inside fn commits or rolls back together.
	Atomically(fn func(Repository) error) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Atomically(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&repository{db: tx})
	})
}

func (r *repository) CreateWallet(wallet *Wallet) error {
	return r.db.Create(wallet).Error
}

func (r *repository) GetWalletByID(id uuid.UUID) (*Wallet, error) {
	var wallet Wallet
	if err := r.db.Where("id = ?", id).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) GetWalletByUserID(userID string) (*Wallet, error) {
	var wallet Wallet
	if err := r.db.Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) GetWalletByNumber(number string) (*Wallet, error) {
	var wallet Wallet
	if err := r.db.Where("wallet_number = ?", number).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) LockWalletByID(id uuid.UUID) (*Wallet, error) {
	var wallet Wallet
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) LockWalletByUserID(userID string) (*Wallet, error) {
	var wallet Wallet
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) CreditWallet(walletID uuid.UUID, amount int64) error {
	return r.db.Model(&Wallet{}).
		Where("id = ?", walletID).
		UpdateColumn("balance", gorm.Expr("balance + ?", amount)).Error
}

func (r *repository) DebitWallet(walletID uuid.UUID, amount int64) error {
	// The balance guard is kept in the WHERE clause even though callers
	// re-check under lock, so a committed balance can never go negative.
	result := r.db.Model(&Wallet{}).
		Where("id = ? AND balance >= ?", walletID, amount).
		UpdateColumn("balance", gorm.Expr("balance - ?", amount))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

func (r *repository) CreateTransaction(tx *Transaction) error {
	return r.db.Create(tx).Error
}

func (r *repository) GetTransactionByID(id uuid.UUID) (*Transaction, error) {
	var tx Transaction
	if err := r.db.Where("id = ?", id).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (r *repository) GetTransactionByReference(ref string) (*Transaction, error) {
	var tx Transaction
	if err := r.db.Where("reference = ?", ref).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (r *repository) UpdateTransactionStatus(ref string, status TransactionStatus) error {
	// Only PENDING rows may transition; the predicate makes the database
	// enforce immutability of finalized rows under concurrent writers.
	result := r.db.Model(&Transaction{}).
		Where("reference = ? AND status = ?", ref, TransactionPending).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetTransactionByReference(ref); err != nil {
			return err
		}
		return ErrTransactionFinalized
	}
	return nil
}

func (r *repository) ListTransactions(walletID string, limit, offset int) ([]Transaction, error) {
	var txs []Transaction
	err := r.db.Where("wallet_id = ?", walletID).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&txs).Error
	return txs, err
}

func (r *repository) CountTransactions(walletID string) (int64, error) {
	var count int64
	err := r.db.Model(&Transaction{}).Where("wallet_id = ?", walletID).Count(&count).Error
	return count, err
}

func (r *repository) ReserveIdempotency(token string) (Reservation, error) {
	record := IdempotencyRecord{Token: token, State: IdempotencyReserved}
	err := r.db.Create(&record).Error
	if err == nil {
		return Reservation{State: ReservationNew, Record: &record}, nil
	}

	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return Reservation{}, fmt.Errorf("reserve idempotency token: %w", err)
	}

	existing, err := r.GetIdempotency(token)
	if err != nil {
		return Reservation{}, fmt.Errorf("load existing idempotency record: %w", err)
	}
	if existing.State == IdempotencyFinalized {
		return Reservation{State: ReservationFinalized, Record: existing}, nil
	}
	return Reservation{State: ReservationInProgress, Record: existing}, nil
}

func (r *repository) FinalizeIdempotency(token string, outcome IdempotencyOutcome, transactionID *uuid.UUID) error {
	return r.db.Model(&IdempotencyRecord{}).
		Where("token = ?", token).
		Updates(map[string]interface{}{
			"state":          IdempotencyFinalized,
			"outcome":        outcome,
			"transaction_id": transactionID,
		}).Error
}

func (r *repository) GetIdempotency(token string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := r.db.Where("token = ?", token).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}
