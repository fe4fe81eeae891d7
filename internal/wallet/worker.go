package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"kobovault/pkg/config"
	"kobovault/pkg/events"
	"kobovault/pkg/id"
	"kobovault/pkg/logger"
)

// DepositWorker drains verified gateway notifications off the Redis queue
// and feeds them to the ledger engine. Events that keep failing land on
// the dead-letter queue for manual inspection.
type DepositWorker struct {
	Config      config.Config
	Svc         *Service
	Repo        Repository
	RedisClient *events.RedisClient
}

func NewDepositWorker(cfg config.Config, svc *Service, repo Repository, redisClient *events.RedisClient) *DepositWorker {
	return &DepositWorker{Config: cfg, Svc: svc, Repo: repo, RedisClient: redisClient}
}

func (w *DepositWorker) Start() {
	logger.Info("Starting deposit worker...")
	go w.processEvents()
}

func (w *DepositWorker) processEvents() {
	for {
		result, err := w.RedisClient.Client.BLPop(context.Background(), 5*time.Second, events.DepositQueue).Result()
		if err != nil {
			continue
		}

		eventData := []byte(result[1])
		var event events.DepositEvent
		if err := json.Unmarshal(eventData, &event); err != nil {
			logger.Error("DepositWorker: Failed to unmarshal event", logger.Fields{"error": err.Error(), "data": string(eventData)})
			w.moveToDLQ(eventData)
			continue
		}

		w.handleEvent(event, eventData)
	}
}

func (w *DepositWorker) handleEvent(event events.DepositEvent, rawData []byte) {
	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		var err error
		switch event.Event {
		case "charge.success":
			err = w.creditDeposit(event)
		case "charge.failed":
			err = w.Svc.FailPendingDeposit(event.Reference)
		default:
			logger.Warn("DepositWorker: Unknown event type", logger.Fields{"event": event.Event, logger.ReferenceKey: event.Reference})
			return
		}

		if err == nil {
			logger.Info("DepositWorker: Event processed", logger.Fields{"event": event.Event, logger.ReferenceKey: event.Reference})
			return
		}

		// The reference's recorded outcome is terminal; redelivery will
		// never succeed, so don't burn retries or the DLQ on it.
		if errors.Is(err, ErrDepositFailed) || errors.Is(err, ErrTransactionFinalized) {
			logger.Warn("DepositWorker: Reference already finalized", logger.Fields{logger.ReferenceKey: event.Reference})
			return
		}

		// An amount mismatch never resolves on retry; park it for an
		// operator straight away.
		if errors.Is(err, ErrAmountMismatch) {
			logger.Error("DepositWorker: Notification amount mismatch", logger.Fields{logger.ReferenceKey: event.Reference, "amount": event.Amount})
			w.moveToDLQ(rawData)
			return
		}

		logger.Warn("DepositWorker: Failed to process event, retrying", logger.Fields{
			"event":             event.Event,
			logger.ReferenceKey: event.Reference,
			"attempt":           i + 1,
			"error":             err.Error(),
		})
		time.Sleep(time.Duration(i+1) * time.Second)
	}

	logger.Error("DepositWorker: Max retries exhausted, moving to DLQ", logger.Fields{logger.ReferenceKey: event.Reference})
	w.moveToDLQ(rawData)
}

// creditDeposit resolves the owning principal and hands the event to the
// ledger engine. Initialized deposits resolve through their pending row;
// events without one fall back to the wallet id carried in the gateway
// metadata.
func (w *DepositWorker) creditDeposit(event events.DepositEvent) error {
	userID, err := w.resolvePrincipal(event)
	if err != nil {
		return err
	}

	_, err = w.Svc.CreditDeposit(event.Reference, userID, event.Amount)
	return err
}

func (w *DepositWorker) resolvePrincipal(event events.DepositEvent) (string, error) {
	tx, err := w.Repo.GetTransactionByReference(event.Reference)
	if err == nil {
		wallet, err := w.Repo.GetWalletByID(tx.WalletID)
		if err != nil {
			return "", err
		}
		return wallet.UserID.String(), nil
	}
	if !errors.Is(err, ErrTransactionNotFound) {
		return "", err
	}

	if event.WalletID == "" {
		return "", ErrTransactionNotFound
	}
	walletID, err := id.Parse(event.WalletID)
	if err != nil {
		return "", err
	}
	wallet, err := w.Repo.GetWalletByID(walletID)
	if err != nil {
		return "", err
	}
	return wallet.UserID.String(), nil
}

func (w *DepositWorker) moveToDLQ(data []byte) {
	if err := w.RedisClient.PushToDLQ(context.Background(), data); err != nil {
		logger.Error("DepositWorker: Failed to push to DLQ", logger.Fields{"error": err.Error()})
	}
}
