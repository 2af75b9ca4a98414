package grpcserver

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/MarkoPoloResearchLab/atelier/internal/credit"
	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

const (
	fieldAccountID  = "account_id"
	fieldBundleSize = "bundle_size"
	fieldPINCode    = "pin_code"

	errorInvalidAccountID = "invalid_account_id"
	errorInvalidBundle    = "invalid_bundle_size"
	errorInvalidPIN       = "invalid_pin_code"
	errorPaymentDeclined  = "payment_declined"
	errorUnknownAccount   = "unknown_account"
	errorPINExhausted     = "pin_space_exhausted"
)

// Ledger is the read side used by the gRPC surface.
type Ledger interface {
	Balance(ctx context.Context, accountID ledger.AccountID) (ledger.Credits, error)
	ListHistory(ctx context.Context, accountID ledger.AccountID) ([]ledger.HistoryEntry, error)
}

// Credits is the purchase and redemption surface.
type Credits interface {
	Bundles() []credit.Bundle
	Purchase(ctx context.Context, accountID ledger.AccountID, bundleName string) (credit.Purchase, error)
	Redeem(ctx context.Context, accountID ledger.AccountID, code string) (credit.Redemption, error)
}

// Server exposes balances, bundles, purchases, redemptions and history over gRPC.
// Requests name the account directly and are not authenticated; serve it on a
// private interface only.
type Server struct {
	ledger  Ledger
	credits Credits
}

var _ CreditServiceServer = (*Server)(nil)

// NewServer constructs a gRPC server for the credit services.
func NewServer(ledgerService Ledger, creditService Credits) *Server {
	return &Server{ledger: ledgerService, credits: creditService}
}

func (server *Server) GetBalance(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountIDField(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, err := server.ledger.Balance(ctx, accountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return newStruct(map[string]any{
		fieldAccountID: accountID.String(),
		"credits":      balance.Int64(),
	})
}

func (server *Server) ListBundles(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	bundles := server.credits.Bundles()
	items := make([]any, 0, len(bundles))
	for _, bundle := range bundles {
		items = append(items, map[string]any{
			"name":        bundle.String(),
			"credits":     bundle.Credits().Int64(),
			"price_cents": bundle.PriceCents(),
			"price":       bundle.Price(),
		})
	}
	return newStruct(map[string]any{"bundles": items})
}

func (server *Server) Purchase(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountIDField(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	purchase, err := server.credits.Purchase(ctx, accountID, stringField(request, fieldBundleSize))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return newStruct(map[string]any{
		fieldPINCode:     purchase.PINCode,
		"transaction_id": purchase.TransactionID,
		"message":        purchase.Message(),
	})
}

func (server *Server) Redeem(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountIDField(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	redemption, err := server.credits.Redeem(ctx, accountID, stringField(request, fieldPINCode))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return newStruct(map[string]any{
		"credits":     redemption.Credits.Int64(),
		"new_balance": redemption.NewBalance.Int64(),
		"message":     redemption.Message(),
	})
}

func (server *Server) ListHistory(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountIDField(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	entries, err := server.ledger.ListHistory(ctx, accountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	items := make([]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{
			"id":        entry.EntryID().Int64(),
			"category":  entry.Category().String(),
			"task":      entry.Task(),
			"detail":    entry.Detail(),
			"status":    entry.Status().String(),
			"timestamp": entry.Timestamp(),
			"metadata":  entry.MetadataJSON().String(),
		}
		if ref, ok := entry.ResultRef(); ok {
			item["result_ref"] = ref.String()
		}
		items = append(items, item)
	}
	return newStruct(map[string]any{"entries": items})
}

func accountIDField(request *structpb.Struct) (ledger.AccountID, error) {
	return ledger.NewAccountID(stringField(request, fieldAccountID))
}

func stringField(request *structpb.Struct, name string) string {
	if request == nil {
		return ""
	}
	value, ok := request.GetFields()[name]
	if !ok {
		return ""
	}
	return value.GetStringValue()
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	response, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return response, nil
}

func mapToGRPCError(source error) error {
	if errors.Is(source, ledger.ErrInvalidAccountID) {
		return status.Error(codes.InvalidArgument, errorInvalidAccountID)
	}
	if errors.Is(source, credit.ErrInvalidBundle) {
		return status.Error(codes.InvalidArgument, errorInvalidBundle)
	}
	if errors.Is(source, credit.ErrInvalidPIN) {
		return status.Error(codes.InvalidArgument, errorInvalidPIN)
	}
	if errors.Is(source, credit.ErrPaymentDeclined) {
		return status.Error(codes.FailedPrecondition, errorPaymentDeclined)
	}
	if errors.Is(source, ledger.ErrUnknownAccount) {
		return status.Error(codes.NotFound, errorUnknownAccount)
	}
	if errors.Is(source, credit.ErrPINSpaceExhausted) {
		return status.Error(codes.ResourceExhausted, errorPINExhausted)
	}
	if errors.Is(source, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, source.Error())
	}
	return status.Error(codes.Internal, source.Error())
}
