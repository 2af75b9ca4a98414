package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/atelier/internal/account"
	"github.com/MarkoPoloResearchLab/atelier/internal/credit"
	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

const messageInsufficientCredits = "Insufficient credits"

type httpHandler struct {
	logger   *zap.Logger
	accounts AccountService
	credits  CreditService
	timeout  time.Duration
}

// requireAccount resolves the session user to an account, opening it on first use.
func (handler *httpHandler) requireAccount(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil || strings.TrimSpace(claims.GetUserID()) == "" {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	accountID, err := ledger.NewAccountID(claims.GetUserID())
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
		return
	}
	username, err := ledger.NewUsername(sessionUsername(claims))
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if _, err := handler.accounts.Ensure(requestCtx, accountID, username); err != nil {
		handler.logger.Error("account bootstrap failed", zap.String("account_id", accountID.String()), zap.Error(err))
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse("ledger_error", "account unavailable"))
		return
	}
	ctx.Set(accountContextKey, accountID)
	ctx.Next()
}

func (handler *httpHandler) handleUserInfo(ctx *gin.Context) {
	accountID := mustAccountID(ctx)
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	stats, err := handler.accounts.Stats(requestCtx, accountID)
	if err != nil {
		handler.respondFailure(ctx, "stats failed", err)
		return
	}
	claims := getClaims(ctx)
	ctx.JSON(http.StatusOK, gin.H{
		"user_id":      accountID.String(),
		"username":     stats.Username.String(),
		"email":        claims.GetUserEmail(),
		"display_name": claims.GetUserDisplayName(),
		"credits":      stats.Balance.Int64(),
	})
}

func (handler *httpHandler) handleCosts(ctx *gin.Context) {
	costs := make(map[string]int64)
	for feature, cost := range handler.accounts.Costs() {
		costs[feature.String()] = cost.Int64()
	}
	ctx.JSON(http.StatusOK, gin.H{"costs": costs})
}

func (handler *httpHandler) handleBundles(ctx *gin.Context) {
	bundles := handler.credits.Bundles()
	payload := make([]bundlePayload, 0, len(bundles))
	for _, bundle := range bundles {
		payload = append(payload, bundlePayload{
			Name:       bundle.String(),
			Credits:    bundle.Credits().Int64(),
			PriceCents: bundle.PriceCents(),
			Price:      bundle.Price(),
			Currency:   credit.Currency,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"bundles": payload})
}

func (handler *httpHandler) handlePurchase(ctx *gin.Context) {
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	purchase, err := handler.credits.Purchase(requestCtx, mustAccountID(ctx), request.BundleSize)
	if err != nil {
		handler.respondRejectionOrFailure(ctx, "purchase failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":  true,
		"pin_code": purchase.PINCode,
		"message":  purchase.Message(),
	})
}

func (handler *httpHandler) handleRedeem(ctx *gin.Context) {
	var request redeemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	redemption, err := handler.credits.Redeem(requestCtx, mustAccountID(ctx), request.PINCode)
	if err != nil {
		handler.respondRejectionOrFailure(ctx, "redeem failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     redemption.Message(),
		"new_balance": redemption.NewBalance.Int64(),
	})
}

// handleUsage bills a feature use reported by the generation front-end.
func (handler *httpHandler) handleUsage(ctx *gin.Context) {
	var request usageRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	feature, err := account.ParseFeature(request.Feature)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_feature", err.Error()))
		return
	}
	action := account.BillableAction{
		Feature:   feature,
		Label:     request.Label,
		Task:      request.Prompt,
		Detail:    request.Detail,
		ResultRef: request.ResultRef,
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	accountID := mustAccountID(ctx)

	if request.Succeeded != nil && !*request.Succeeded {
		if _, err := handler.accounts.RecordFailure(requestCtx, accountID, action); err != nil {
			handler.respondFailure(ctx, "usage failure record failed", err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"success": true, "charged": 0})
		return
	}
	updated, err := handler.accounts.Charge(requestCtx, accountID, action)
	if errors.Is(err, account.ErrInsufficientCredits) {
		ctx.JSON(http.StatusOK, gin.H{"success": false, "message": messageInsufficientCredits})
		return
	}
	if err != nil {
		handler.respondFailure(ctx, "charge failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"charged": feature.Cost().Int64(),
		"credits": updated.Balance.Int64(),
	})
}

func (handler *httpHandler) handleStats(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	stats, err := handler.accounts.Stats(requestCtx, mustAccountID(ctx))
	if err != nil {
		handler.respondFailure(ctx, "stats failed", err)
		return
	}
	ctx.JSON(http.StatusOK, statsPayload{
		Credits:           stats.Balance.Int64(),
		StartingCredits:   stats.StartingBalance.Int64(),
		CreditsAdded:      stats.LifetimeAdded.Int64(),
		CreditsUsed:       stats.LifetimeUsed.Int64(),
		Generations:       stats.Generations,
		LastCreditAddedAt: formatOptionalTime(stats.LastCreditAddedAt),
		LastCreditUsedAt:  formatOptionalTime(stats.LastCreditUsedAt),
		MemberSince:       ledger.FormatTimestamp(stats.CreatedAt),
	})
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	handler.respondEntries(ctx, handler.accounts.History)
}

func (handler *httpHandler) handleGallery(ctx *gin.Context) {
	handler.respondEntries(ctx, handler.accounts.Gallery)
}

func (handler *httpHandler) handleClearHistory(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	deleted, err := handler.accounts.ClearHistory(requestCtx, mustAccountID(ctx))
	if err != nil {
		handler.respondFailure(ctx, "clear history failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "deleted": deleted})
}

func (handler *httpHandler) respondEntries(ctx *gin.Context, list func(context.Context, ledger.AccountID) ([]ledger.HistoryEntry, error)) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, err := list(requestCtx, mustAccountID(ctx))
	if err != nil {
		handler.respondFailure(ctx, "history fetch failed", err)
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, newEntryPayload(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payload})
}

func (handler *httpHandler) respondRejectionOrFailure(ctx *gin.Context, logMessage string, err error) {
	if message, rejected := credit.RejectionMessage(err); rejected {
		ctx.JSON(http.StatusOK, gin.H{"success": false, "message": message})
		return
	}
	handler.respondFailure(ctx, logMessage, err)
}

func (handler *httpHandler) respondFailure(ctx *gin.Context, logMessage string, err error) {
	handler.logger.Error(logMessage, zap.Error(err))
	ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "operation failed"))
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.timeout)
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func mustAccountID(ctx *gin.Context) ledger.AccountID {
	return ctx.MustGet(accountContextKey).(ledger.AccountID)
}

// sessionUsername prefers the session email and falls back to the user id.
func sessionUsername(claims *sessionvalidator.Claims) string {
	if email := strings.TrimSpace(claims.GetUserEmail()); email != "" {
		return email
	}
	return claims.GetUserID()
}

func formatOptionalTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return ledger.FormatTimestamp(value)
}

func newEntryPayload(entry ledger.HistoryEntry) entryPayload {
	payload := entryPayload{
		ID:        entry.EntryID().Int64(),
		Category:  entry.Category().String(),
		Task:      entry.Task(),
		Detail:    entry.Detail(),
		Status:    entry.Status().String(),
		Timestamp: entry.Timestamp(),
		Metadata:  json.RawMessage(entry.MetadataJSON().String()),
	}
	if ref, ok := entry.ResultRef(); ok {
		payload.ResultRef = ref.String()
	}
	return payload
}

type purchaseRequest struct {
	BundleSize string `json:"bundle_size"`
}

type redeemRequest struct {
	PINCode string `json:"pin_code"`
}

type usageRequest struct {
	Feature   string `json:"feature"`
	Label     string `json:"label"`
	Prompt    string `json:"prompt"`
	Detail    string `json:"detail"`
	ResultRef string `json:"result_ref"`
	Succeeded *bool  `json:"succeeded"`
}

type bundlePayload struct {
	Name       string `json:"name"`
	Credits    int64  `json:"credits"`
	PriceCents int64  `json:"price_cents"`
	Price      string `json:"price"`
	Currency   string `json:"currency"`
}

type statsPayload struct {
	Credits           int64  `json:"credits"`
	StartingCredits   int64  `json:"starting_credits"`
	CreditsAdded      int64  `json:"credits_added"`
	CreditsUsed       int64  `json:"credits_used"`
	Generations       int64  `json:"generations"`
	LastCreditAddedAt string `json:"last_credit_added_at"`
	LastCreditUsedAt  string `json:"last_credit_used_at"`
	MemberSince       string `json:"member_since"`
}

type entryPayload struct {
	ID        int64           `json:"id"`
	Category  string          `json:"category"`
	Task      string          `json:"task"`
	Detail    string          `json:"detail"`
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	ResultRef string          `json:"result_ref,omitempty"`
	Metadata  json.RawMessage `json:"metadata"`
}
