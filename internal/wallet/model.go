package wallet

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const walletNumberLength = 13

type Wallet struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	UserID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	WalletNumber string    `gorm:"uniqueIndex;not null" json:"wallet_number"`
	Balance      int64     `gorm:"not null;default:0" json:"balance"` // in Kobo
	Currency     string    `gorm:"not null;default:NGN" json:"currency"`
	IsActive     bool      `gorm:"not null;default:true" json:"is_active"`
	PinHash      string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type TransactionKind string

const (
	KindDeposit        TransactionKind = "DEPOSIT"
	KindTransferDebit  TransactionKind = "TRANSFER_DEBIT"
	KindTransferCredit TransactionKind = "TRANSFER_CREDIT"
)

type TransactionStatus string

const (
	TransactionPending TransactionStatus = "PENDING"
	TransactionSuccess TransactionStatus = "SUCCESS"
	TransactionFailed  TransactionStatus = "FAILED"
)

// Transaction is an append-only ledger row. Once the status leaves
// PENDING the row is never edited; corrections are new compensating rows.
type Transaction struct {
	ID                       uuid.UUID         `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	WalletID                 uuid.UUID         `gorm:"type:uuid;not null" json:"wallet_id"`
	Reference                string            `gorm:"uniqueIndex;not null" json:"reference"`
	Kind                     TransactionKind   `gorm:"not null" json:"kind"`
	Amount                   int64             `gorm:"not null" json:"amount"`
	Status                   TransactionStatus `gorm:"not null" json:"status"`
	CounterpartyWalletNumber *string           `json:"counterparty_wallet_number,omitempty"`
	Description              string            `json:"description"`
	CreatedAt                time.Time         `json:"created_at"`
	UpdatedAt                time.Time         `json:"updated_at"`
}

type IdempotencyState string

const (
	IdempotencyReserved  IdempotencyState = "RESERVED"
	IdempotencyFinalized IdempotencyState = "FINALIZED"
)

type IdempotencyOutcome string

const (
	OutcomeSuccess IdempotencyOutcome = "SUCCESS"
	OutcomeFailed  IdempotencyOutcome = "FAILED"
)

// IdempotencyRecord maps an external reference token to at most one
// committed effect. The unique token column is the only synchronization
// point between concurrent handlers processing the same notification.
type IdempotencyRecord struct {
	Token         string             `gorm:"primaryKey" json:"token"`
	State         IdempotencyState   `gorm:"not null" json:"state"`
	Outcome       IdempotencyOutcome `json:"outcome"`
	TransactionID *uuid.UUID         `gorm:"type:uuid" json:"transaction_id,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// GenerateWalletNumber returns a random 13-digit wallet number. Uniqueness
// is enforced by the database index; callers retry on collision.
func GenerateWalletNumber() string {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(walletNumberLength), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("%013d", n)
}
