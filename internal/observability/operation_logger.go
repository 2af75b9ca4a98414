package observability

import (
	"context"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

// ZapOperationLogger writes ledger operations as structured log lines.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps logger; a nil logger discards everything.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger.Named("ledger")}
}

// LogOperation implements ledger.OperationLogger.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("account_id", entry.AccountID.String()),
		zap.Int64("amount", entry.Amount.Int64()),
		zap.Int64("balance", entry.Balance.Int64()),
	}
	if entry.Subject != "" {
		fields = append(fields, zap.String("subject", entry.Subject))
	}
	switch {
	case entry.Error != nil && entry.Status != ledger.StatusRejected():
		operationLogger.logger.Error("ledger operation failed", append(fields, zap.Error(entry.Error))...)
	case entry.Error != nil:
		operationLogger.logger.Info("ledger operation rejected", append(fields, zap.String("reason", entry.Error.Error()))...)
	case entry.Status == ledger.StatusRejected():
		operationLogger.logger.Info("ledger operation rejected", fields...)
	default:
		operationLogger.logger.Info("ledger operation", fields...)
	}
}

// MultiOperationLogger forwards every entry to each logger in order.
type MultiOperationLogger []ledger.OperationLogger

// LogOperation implements ledger.OperationLogger.
func (loggers MultiOperationLogger) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	for _, logger := range loggers {
		if logger != nil {
			logger.LogOperation(ctx, entry)
		}
	}
}
