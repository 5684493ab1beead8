// Package worker provides async transaction scoring from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Worker consumes submitted transactions from the bus and scores them
// through the pipeline. Callers that publish instead of calling the
// HTTP API pick up results from the score-completed topic or the cache.
type Worker struct {
	bus    domain.EventBus
	pipe   *pipeline.Pipeline
	subs   []domain.Subscription
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker creates a new async scoring worker.
func NewWorker(bus domain.EventBus, pipe *pipeline.Pipeline) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		pipe:   pipe,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the transaction-submitted topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subs = append(w.subs, sub)

	slog.Info("scoring worker started",
		"topic", domain.TopicTransactionSubmitted,
	)
	return nil
}

// Stop unsubscribes and cancels in-flight handlers.
func (w *Worker) Stop() {
	w.cancel()
	for _, sub := range w.subs {
		_ = sub.Unsubscribe()
	}
	w.subs = nil
}

// TransactionMessage is the payload for async transaction submission.
type TransactionMessage struct {
	TxID              string    `json:"txId"`
	AccountID         string    `json:"accountId"`
	MerchantID        string    `json:"merchantId"`
	DeviceID          string    `json:"deviceId"`
	Location          string    `json:"location"`
	Amount            float64   `json:"amount"`
	DurationSecs      float64   `json:"durationSecs"`
	LoginAttempts     int       `json:"loginAttempts"`
	AccountBalance    float64   `json:"accountBalance"`
	Timestamp         time.Time `json:"timestamp"`
	PreviousTimestamp time.Time `json:"previousTimestamp"`
	Type              string    `json:"type"`
	Channel           string    `json:"channel"`
	Occupation        string    `json:"occupation"`
	Age               int       `json:"age"`
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var txMsg TransactionMessage
	if err := json.Unmarshal(msg.Payload, &txMsg); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	tx := &domain.Transaction{
		ID:                txMsg.TxID,
		AccountID:         txMsg.AccountID,
		MerchantID:        txMsg.MerchantID,
		DeviceID:          txMsg.DeviceID,
		Location:          txMsg.Location,
		Amount:            txMsg.Amount,
		Duration:          txMsg.DurationSecs,
		LoginAttempts:     txMsg.LoginAttempts,
		AccountBalance:    txMsg.AccountBalance,
		Timestamp:         txMsg.Timestamp,
		PreviousTimestamp: txMsg.PreviousTimestamp,
		Type:              txMsg.Type,
		Channel:           txMsg.Channel,
		Occupation:        txMsg.Occupation,
		Age:               txMsg.Age,
	}

	bundle, err := w.pipe.Score(ctx, tx)
	if err != nil && bundle == nil {
		slog.Error("async scoring failed",
			"tx_id", txMsg.TxID,
			"error", err,
		)
		return err
	}
	if err != nil {
		// Persistence degraded, the score itself is complete.
		slog.Warn("async scoring degraded",
			"tx_id", txMsg.TxID,
			"error", err,
		)
	}

	slog.Debug("transaction scored",
		"tx_id", txMsg.TxID,
		"score_id", bundle.ID,
		"composite_score", bundle.CompositeScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
