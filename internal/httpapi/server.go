package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/atelier/internal/account"
	"github.com/MarkoPoloResearchLab/atelier/internal/credit"
	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

const (
	claimsContextKey  = "auth_claims"
	accountContextKey = "account_id"
)

// AccountService is the account workflow surface used by the handlers.
type AccountService interface {
	Ensure(ctx context.Context, accountID ledger.AccountID, username ledger.Username) (ledger.Account, error)
	Stats(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error)
	History(ctx context.Context, accountID ledger.AccountID) ([]ledger.HistoryEntry, error)
	Gallery(ctx context.Context, accountID ledger.AccountID) ([]ledger.HistoryEntry, error)
	ClearHistory(ctx context.Context, accountID ledger.AccountID) (int64, error)
	Charge(ctx context.Context, accountID ledger.AccountID, action account.BillableAction) (ledger.Account, error)
	RecordFailure(ctx context.Context, accountID ledger.AccountID, action account.BillableAction) (ledger.HistoryEntryID, error)
	Costs() map[account.Feature]ledger.Credits
}

// CreditService is the purchase and redemption surface used by the handlers.
type CreditService interface {
	Bundles() []credit.Bundle
	Purchase(ctx context.Context, accountID ledger.AccountID, bundleName string) (credit.Purchase, error)
	Redeem(ctx context.Context, accountID ledger.AccountID, code string) (credit.Redemption, error)
}

// Dependencies are the collaborators wired into the router.
type Dependencies struct {
	Accounts AccountService
	Credits  CreditService
	// Metrics, when set, is served on /metrics.
	Metrics http.Handler
	Logger  *zap.Logger
}

// Run serves the API until ctx is cancelled.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}
	router, err := NewRouter(cfg, deps, validator.GinMiddleware(claimsContextKey))
	if err != nil {
		return err
	}
	logger := loggerOrNop(deps.Logger)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter builds the gin engine. authenticate must place
// *sessionvalidator.Claims under "auth_claims" or abort the request.
func NewRouter(cfg Config, deps Dependencies, authenticate gin.HandlerFunc) (*gin.Engine, error) {
	if deps.Accounts == nil || deps.Credits == nil {
		return nil, errors.New("httpapi: account and credit services are required")
	}
	if authenticate == nil {
		return nil, errors.New("httpapi: session middleware is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	handler := &httpHandler{
		logger:   loggerOrNop(deps.Logger),
		accounts: deps.Accounts,
		credits:  deps.Credits,
		timeout:  cfg.RequestTimeout,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	api := router.Group("/api")
	api.Use(authenticate, handler.requireAccount)

	api.POST("/bootstrap", handler.handleUserInfo)
	api.GET("/credits/costs", handler.handleCosts)
	api.GET("/credits/bundles", handler.handleBundles)
	api.POST("/credits/purchase", handler.handlePurchase)
	api.POST("/credits/redeem", handler.handleRedeem)
	api.POST("/usage", handler.handleUsage)
	api.GET("/user/info", handler.handleUserInfo)
	api.GET("/user/stats", handler.handleStats)
	api.GET("/user/history", handler.handleHistory)
	api.GET("/user/gallery", handler.handleGallery)
	api.POST("/user/history/clear", handler.handleClearHistory)

	return router, nil
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
