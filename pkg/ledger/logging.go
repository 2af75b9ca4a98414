package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by state-changing operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation string
	AccountID AccountID
	Amount    Credits
	Balance   Credits
	Subject   string
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithDeductPolicy selects the balance check applied by Deduct.
func WithDeductPolicy(policy DeductPolicy) ServiceOption {
	return func(service *Service) {
		service.deductPolicy = policy
	}
}

// LogOperation fills in the status from the error and forwards the entry.
// A nil logger is ignored so callers never need to guard.
func LogOperation(ctx context.Context, logger OperationLogger, entry OperationLog) {
	if logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	logger.LogOperation(ctx, entry)
}

// StatusRejected marks operations refused by a business rule.
func StatusRejected() string {
	return operationStatusRejected
}
