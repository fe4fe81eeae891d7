package wallet

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"kobovault/internal/paystack"
	"kobovault/internal/user"
	"kobovault/pkg/config"
	"kobovault/pkg/events"
	"kobovault/pkg/logger"
	"kobovault/pkg/utils"
)

type Handler struct {
	Config   config.Config
	Svc      *Service
	Repo     Repository
	Paystack *paystack.Client
	Events   *events.RedisClient
}

func NewHandler(cfg config.Config, svc *Service, repo Repository, ps *paystack.Client, ev *events.RedisClient) *Handler {
	return &Handler{Config: cfg, Svc: svc, Repo: repo, Paystack: ps, Events: ev}
}

type CreateWalletRequest struct {
	Pin string `json:"pin"`
}

func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	usr, ok := r.Context().Value(utils.UserKey).(user.User)
	if !ok {
		utils.BuildErrorResponse(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}

	var req CreateWalletRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	if len(req.Pin) != 4 {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "PIN must be 4 digits", nil)
		return
	}

	existing, err := h.Repo.GetWalletByUserID(usr.ID.String())
	if err == nil && existing != nil {
		utils.BuildErrorResponse(w, http.StatusConflict, "User already has a wallet", nil)
		return
	}

	hashedPin, err := bcrypt.GenerateFromPassword([]byte(req.Pin), bcrypt.DefaultCost)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to secure PIN", nil)
		return
	}

	wallet := &Wallet{
		UserID:   usr.ID,
		PinHash:  string(hashedPin),
		Balance:  0,
		Currency: "NGN",
		IsActive: true,
	}

	// Wallet numbers are random; retry on the rare uniqueness collision.
	const maxAttempts = 10
	for attempt := 0; ; attempt++ {
		wallet.WalletNumber = GenerateWalletNumber()
		err = h.Repo.CreateWallet(wallet)
		if err == nil {
			break
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) || attempt == maxAttempts-1 {
			utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to create wallet", nil)
			return
		}
	}

	utils.BuildSuccessResponse(w, http.StatusCreated, "Wallet created successfully", map[string]interface{}{
		"wallet_number": wallet.WalletNumber,
		"balance":       wallet.Balance,
		"currency":      wallet.Currency,
	})
}

type DepositRequest struct {
	Amount int64 `json:"amount"` // in Kobo
}

func (h *Handler) WalletDeposit(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)

	var req DepositRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	if req.Amount < h.Config.MinTransactionAmount {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Invalid amount, can't be less than 100 Naira (10000 Kobo)", nil)
		return
	}

	wallet, err := h.Repo.GetWalletByUserID(usr.ID.String())
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusNotFound, "Wallet not found", nil)
		return
	}

	reference := fmt.Sprintf("dep-%s-%d", usr.ID.String(), time.Now().UnixNano())

	result, err := h.Paystack.Initialize(paystack.InitializeRequest{
		Email:       usr.Email,
		Amount:      req.Amount,
		Reference:   reference,
		Currency:    wallet.Currency,
		Channels:    h.Config.PaystackChannels,
		CallbackURL: fmt.Sprintf("%s/api/wallet/deposit/callback", h.Config.Host),
		Metadata:    map[string]interface{}{"wallet_id": wallet.ID.String()},
	})
	if err != nil {
		logger.Error("Paystack initialization failed", logger.WithError(err))
		utils.BuildErrorResponse(w, http.StatusBadGateway, "Paystack error", nil)
		return
	}

	if _, err := h.Svc.RecordPendingDeposit(usr.ID.String(), reference, req.Amount); err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to register transaction", nil)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Deposit initialized", result)
}

// PaystackWebhook authenticates gateway notifications and queues them for
// the deposit worker. Signature verification happens here, before the
// event can ever reach the ledger engine.
func (h *Handler) PaystackWebhook(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get("x-paystack-signature")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("Webhook: Failed to read body", logger.WithError(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	hash := hmac.New(sha512.New, []byte(h.Config.PaystackSecret))
	hash.Write(body)
	expectedSig := hex.EncodeToString(hash.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expectedSig)) {
		logger.Warn("Webhook: Signature mismatch", logger.Fields{"remote_addr": r.RemoteAddr})
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
			Status    string `json:"status"`
			Amount    int64  `json:"amount"`
			Metadata  struct {
				WalletID string `json:"wallet_id"`
			} `json:"metadata"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event := events.DepositEvent{
		Event:     payload.Event,
		Reference: payload.Data.Reference,
		Status:    payload.Data.Status,
		Amount:    payload.Data.Amount,
		WalletID:  payload.Data.Metadata.WalletID,
		Timestamp: time.Now(),
	}

	if err := h.Events.PublishDeposit(r.Context(), event); err != nil {
		logger.Error("Webhook: Failed to enqueue event", logger.Fields{
			logger.ReferenceKey: event.Reference,
			logger.ErrorKey:     err.Error(),
		})
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	logger.Info("Webhook: Event queued", logger.Fields{logger.ReferenceKey: event.Reference, "event": event.Event})
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) GetWalletBalance(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)

	wallet, err := h.Repo.GetWalletByUserID(usr.ID.String())
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusNotFound, "Wallet not found", nil)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Wallet Balance", map[string]any{
		"balance": wallet.Balance,
	})
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)

	wallet, err := h.Repo.GetWalletByUserID(usr.ID.String())
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusNotFound, "Wallet not found", nil)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Wallet Details", wallet)
}

type TransferRequest struct {
	WalletNumber string `json:"wallet_number"`
	Amount       int64  `json:"amount"`
	Pin          string `json:"pin"`
	Description  string `json:"description"`
}

func (h *Handler) TransferFunds(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)

	var req TransferRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	if req.Amount < h.Config.MinTransactionAmount {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Invalid amount, can't be less than 100 Naira (10000 Kobo)", nil)
		return
	}

	senderWallet, err := h.Repo.GetWalletByUserID(usr.ID.String())
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusNotFound, "Sender wallet not found", nil)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(senderWallet.PinHash), []byte(req.Pin)); err != nil {
		utils.BuildErrorResponse(w, http.StatusUnauthorized, "Invalid PIN", nil)
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")

	result, err := h.Svc.Transfer(usr.ID.String(), req.WalletNumber, req.Amount, req.Description, idempotencyKey)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Transfer completed", result)
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	usr, _ := r.Context().Value(utils.UserKey).(user.User)

	limit, offset, page := utils.GetPaginationDetails(r)

	txs, count, err := h.Svc.ListTransactions(usr.ID.String(), limit, offset)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	totalPages := int(math.Ceil(float64(count) / float64(limit)))

	utils.BuildSuccessResponse(w, http.StatusOK, "Transaction History", map[string]interface{}{
		"transactions": txs,
		"meta": map[string]interface{}{
			"total_items":  count,
			"total_pages":  totalPages,
			"current_page": page,
			"limit":        limit,
		},
	})
}

func (h *Handler) GetDepositStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	reference := vars["reference"]
	if reference == "" || !strings.HasPrefix(reference, "dep-") {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Invalid reference format", nil)
		return
	}

	tx, err := h.Svc.StatusOf(reference)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}

	response := map[string]interface{}{
		"reference": tx.Reference,
		"status":    tx.Status,
		"amount":    tx.Amount,
	}

	if tx.Status == TransactionPending {
		paystackStatus, err := h.Paystack.VerifyStatus(reference)
		if err == nil {
			response["paystack_status"] = paystackStatus
		} else {
			response["paystack_status"] = "unknown"
		}
	} else {
		response["paystack_status"] = "not_checked"
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Transaction status retrieved", response)
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Invalid amount", nil)
	case errors.Is(err, ErrSelfTransfer):
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Cannot transfer to self", nil)
	case errors.Is(err, ErrWalletNotFound):
		utils.BuildErrorResponse(w, http.StatusNotFound, "Wallet not found", nil)
	case errors.Is(err, ErrTransactionNotFound):
		utils.BuildErrorResponse(w, http.StatusNotFound, "Transaction not found", nil)
	case errors.Is(err, ErrWalletInactive):
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Wallet is inactive", nil)
	case errors.Is(err, ErrInsufficientFunds):
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Insufficient balance", nil)
	case errors.Is(err, ErrTransferInProgress), errors.Is(err, ErrDepositInProgress):
		utils.BuildErrorResponse(w, http.StatusConflict, "Operation already in progress, retry shortly", nil)
	case errors.Is(err, ErrTransferFailed), errors.Is(err, ErrDepositFailed):
		utils.BuildErrorResponse(w, http.StatusConflict, "Operation previously failed", nil)
	case errors.Is(err, ErrTransactionFinalized):
		utils.BuildErrorResponse(w, http.StatusConflict, "Transaction already finalized", nil)
	case errors.Is(err, ErrAmountMismatch):
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Amount does not match initialized deposit", nil)
	default:
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Operation failed", nil)
	}
}
