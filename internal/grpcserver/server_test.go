package grpcserver

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/atelier/internal/credit"
	"github.com/MarkoPoloResearchLab/atelier/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

const bufconnSize = 1 << 20

func startClient(t *testing.T, payments credit.PaymentProcessor) (*Client, *ledger.Service) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "atelier.db")
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	ledgerService, err := ledger.NewService(gormstore.New(db), time.Now)
	if err != nil {
		t.Fatalf("ledger service: %v", err)
	}
	creditService, err := credit.NewService(ledgerService, credit.NewPINRegistry(), payments, time.Now)
	if err != nil {
		t.Fatalf("credit service: %v", err)
	}

	listener := bufconn.Listen(bufconnSize)
	grpcServer := grpc.NewServer()
	RegisterCreditServiceServer(grpcServer, NewServer(ledgerService, creditService))
	go func() {
		_ = grpcServer.Serve(listener)
	}()
	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("gRPC client init failed: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		grpcServer.Stop()
	})
	return NewClient(conn), ledgerService
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	request, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	return request
}

func openAccount(t *testing.T, ledgerService *ledger.Service, rawID string) {
	t.Helper()
	accountID, err := ledger.NewAccountID(rawID)
	if err != nil {
		t.Fatalf("account id: %v", err)
	}
	username, err := ledger.NewUsername(rawID + "@example.com")
	if err != nil {
		t.Fatalf("username: %v", err)
	}
	if _, err := ledgerService.OpenAccount(context.Background(), accountID, username); err != nil {
		t.Fatalf("open account: %v", err)
	}
}

func TestPurchaseRedeemOverGRPC(t *testing.T) {
	client, ledgerService := startClient(t, credit.StaticPayments{Approve: true})
	openAccount(t, ledgerService, "user-1")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	balance, err := client.GetBalance(ctx, mustStruct(t, map[string]any{"account_id": "user-1"}))
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.GetFields()["credits"].GetNumberValue() != 100 {
		t.Fatalf("unexpected balance %v", balance)
	}

	purchase, err := client.Purchase(ctx, mustStruct(t, map[string]any{"account_id": "user-1", "bundle_size": "Medium"}))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	pin := purchase.GetFields()["pin_code"].GetStringValue()
	if len(pin) != 8 || purchase.GetFields()["transaction_id"].GetStringValue() == "" {
		t.Fatalf("unexpected purchase %v", purchase)
	}

	redemption, err := client.Redeem(ctx, mustStruct(t, map[string]any{"account_id": "user-1", "pin_code": pin}))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if redemption.GetFields()["new_balance"].GetNumberValue() != 200 {
		t.Fatalf("unexpected redemption %v", redemption)
	}

	_, err = client.Redeem(ctx, mustStruct(t, map[string]any{"account_id": "user-1", "pin_code": pin}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for reused pin, got %v", err)
	}

	history, err := client.ListHistory(ctx, mustStruct(t, map[string]any{"account_id": "user-1"}))
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	entries := history.GetFields()["entries"].GetListValue().GetValues()
	if len(entries) != 2 {
		t.Fatalf("expected purchase and redemption entries, got %d", len(entries))
	}
}

func TestListBundlesOverGRPC(t *testing.T) {
	client, _ := startClient(t, credit.StaticPayments{Approve: true})
	response, err := client.ListBundles(context.Background(), nil)
	if err != nil {
		t.Fatalf("list bundles: %v", err)
	}
	bundles := response.GetFields()["bundles"].GetListValue().GetValues()
	if len(bundles) != 3 {
		t.Fatalf("expected 3 bundles, got %d", len(bundles))
	}
	large := bundles[2].GetStructValue().GetFields()
	if large["name"].GetStringValue() != "Large" || large["price"].GetStringValue() != "MYR89.99" {
		t.Fatalf("unexpected bundle %v", large)
	}
}

func TestErrorCodesOverGRPC(t *testing.T) {
	client, ledgerService := startClient(t, credit.StaticPayments{Approve: false})
	openAccount(t, ledgerService, "user-1")
	ctx := context.Background()

	testCases := []struct {
		name         string
		call         func() error
		expectedCode codes.Code
	}{
		{
			name: "missing account id",
			call: func() error {
				_, err := client.GetBalance(ctx, mustStruct(t, map[string]any{}))
				return err
			},
			expectedCode: codes.InvalidArgument,
		},
		{
			name: "unknown bundle",
			call: func() error {
				_, err := client.Purchase(ctx, mustStruct(t, map[string]any{"account_id": "user-1", "bundle_size": "Huge"}))
				return err
			},
			expectedCode: codes.InvalidArgument,
		},
		{
			name: "declined payment",
			call: func() error {
				_, err := client.Purchase(ctx, mustStruct(t, map[string]any{"account_id": "user-1", "bundle_size": "Small"}))
				return err
			},
			expectedCode: codes.FailedPrecondition,
		},
	}
	for _, testCase := range testCases {
		if code := status.Code(testCase.call()); code != testCase.expectedCode {
			t.Fatalf("%s: expected %v, got %v", testCase.name, testCase.expectedCode, code)
		}
	}
}

func TestMapToGRPCError(t *testing.T) {
	testCases := []struct {
		source       error
		expectedCode codes.Code
	}{
		{source: ledger.ErrUnknownAccount, expectedCode: codes.NotFound},
		{source: credit.ErrPINSpaceExhausted, expectedCode: codes.ResourceExhausted},
		{source: context.DeadlineExceeded, expectedCode: codes.DeadlineExceeded},
		{source: errors.New("disk full"), expectedCode: codes.Internal},
	}
	for _, testCase := range testCases {
		if code := status.Code(mapToGRPCError(testCase.source)); code != testCase.expectedCode {
			t.Fatalf("%v: expected %v, got %v", testCase.source, testCase.expectedCode, code)
		}
	}
}
