package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqcontract "charityledger/contracts/mq"
	"charityledger/internal/chain"
	"charityledger/internal/ledger"
	"charityledger/internal/model"
	"charityledger/pkg/logger"
	"charityledger/pkg/metrics"
	"charityledger/pkg/trace"
	"charityledger/pkg/util"

	"go.uber.org/zap"
)

const chainDonationHandler = "chain_donation"

// DonationRecorder records a donation observed on chain into the ledger.
type DonationRecorder interface {
	RecordChainDonation(ctx context.Context, txHash, projectRef string, amount model.Money, donorID, donorName string) ledger.DonationResult
}

type Deduper interface {
	AcquireOnce(ctx context.Context, handler, id string) bool
	Release(ctx context.Context, handler, id string)
}

type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError string) error
}

// ChainDonationHandler consumes chain.donation.received events.
type ChainDonationHandler struct {
	recorder     DonationRecorder
	deduper      Deduper
	retryCounter RetryCounter
	dlq          DLQPublisher
	queue        string
	maxRetries   int64
	logger       *zap.Logger
}

func NewChainDonationHandler(
	recorder DonationRecorder,
	deduper Deduper,
	retryCounter RetryCounter,
	dlq DLQPublisher,
	queue string,
	maxRetries int64,
	logger *zap.Logger,
) *ChainDonationHandler {
	return &ChainDonationHandler{
		recorder:     recorder,
		deduper:      deduper,
		retryCounter: retryCounter,
		dlq:          dlq,
		queue:        queue,
		maxRetries:   maxRetries,
		logger:       logger,
	}
}

// Handle returns nil to ack and an error to nack for redelivery.
func (h *ChainDonationHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	defer h.recoverPanic()
	start := time.Now()
	defer func() {
		metrics.RecordMQConsumeLatency(mqcontract.RoutingChainDonationReceived, h.queue, time.Since(start))
	}()

	// Step 1: decode payload
	var payload mqcontract.ChainDonationReceivedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.logger.Error("Invalid ChainDonationReceivedPayload, sending to DLQ",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		h.sendToDLQ(ctx, raw, fmt.Sprintf("bad_payload: %v", err))
		return nil
	}

	if payload.TraceID != "" {
		ctx = trace.WithContext(ctx, payload.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("tx_hash", payload.TxHash),
		zap.String("project_ref", payload.ProjectID),
	)

	txHash := strings.ToLower(strings.TrimSpace(payload.TxHash))
	if txHash == "" || payload.ProjectID == "" {
		log.Warn("Chain donation without tx hash or project, sending to DLQ")
		h.sendToDLQ(ctx, raw, "missing tx_hash or project_id")
		return nil
	}
	amount, err := chain.FromOctas(payload.Amount)
	if err != nil {
		log.Warn("Chain donation amount is not a valid octa value, sending to DLQ",
			zap.String("amount", payload.Amount),
			zap.Error(err),
		)
		h.sendToDLQ(ctx, raw, fmt.Sprintf("bad_amount: %v", err))
		return nil
	}

	// Step 2: dedupe concurrent deliveries
	if !h.deduper.AcquireOnce(ctx, chainDonationHandler, txHash) {
		return nil
	}

	retryKey := util.FormatRetryKey(chainDonationHandler, txHash)
	retryCount, _ := h.retryCounter.IncrementAndGet(ctx, retryKey)

	// Step 3: record
	res := h.recorder.RecordChainDonation(ctx, txHash, payload.ProjectID, amount, payload.DonorID, payload.DonorName)
	if res.Success {
		h.resetRetry(ctx, retryKey)
		log.Info("Chain donation recorded",
			zap.String("milestone_id", res.MilestoneID),
			zap.String("amount", amount.String()),
			zap.String("result", res.Message),
		)
		return nil
	}

	// the ledger dedupes by tx hash itself, so the marker only guards concurrent deliveries
	h.deduper.Release(ctx, chainDonationHandler, txHash)
	return h.handleRecordError(ctx, log, raw, res.Err, retryKey, retryCount)
}

func (h *ChainDonationHandler) handleRecordError(ctx context.Context, log *zap.Logger, raw []byte, err error, retryKey string, retryCount int64) error {
	isRetryable, errType := util.IsRetryableError(err)
	if errors.Is(err, ledger.ErrUpstream) || errors.Is(err, ledger.ErrInternal) {
		isRetryable = true
	}
	if errors.Is(err, ledger.ErrValidation) {
		isRetryable, errType = false, "validation"
	}

	log.Warn("Chain donation not recorded",
		zap.String("error", ledger.Message(err)),
		zap.String("type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Int64("retry", retryCount),
	)

	if util.ShouldRetry(retryCount, h.maxRetries, isRetryable) {
		return err // nack → 重试
	}

	if isRetryable {
		log.Error("Max retries exceeded, sending chain donation to DLQ")
	}
	h.sendToDLQ(ctx, raw, ledger.Message(err))
	h.resetRetry(ctx, retryKey)
	return nil // ack
}

func (h *ChainDonationHandler) sendToDLQ(ctx context.Context, raw []byte, reason string) {
	if h.dlq == nil {
		return
	}
	if err := h.dlq.PublishToDLQ(ctx, mqcontract.RoutingChainDonationReceived, raw, reason); err != nil {
		h.logger.Error("Failed to publish chain donation to DLQ",
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

func (h *ChainDonationHandler) resetRetry(ctx context.Context, key string) {
	if err := h.retryCounter.Reset(ctx, key); err != nil {
		h.logger.Warn("Failed to reset retry counter", zap.String("key", key), zap.Error(err))
	}
}

func (h *ChainDonationHandler) recoverPanic() {
	if r := recover(); r != nil {
		h.logger.Error("panic recovered in handler", zap.Any("panic", r))
	}
}
