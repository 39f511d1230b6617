package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"glovendor/internal/rbac"
	"glovendor/internal/reporting"
	"glovendor/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// GetBalance serves GET /wallet/balance?email=&role=. The role parameter is
// accepted for compatibility and ignored.
func (h Handlers) GetBalance(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	accountID, err := h.target(c.Request.Context(), id, c.Query("email"))
	if err != nil {
		writeError(c, err)
		return
	}
	a, err := h.Wallet.Account(c.Request.Context(), accountID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": a.ID,
		"email":      a.Email,
		"kind":       a.Kind,
		"balance":    a.Balance.StringFixed(2),
	})
}

func (h Handlers) ListTransactions(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	txs, err := h.Wallet.History(c.Request.Context(), wallet.Caller{AccountID: id.AccountID, Role: id.Role})
	if err != nil {
		writeError(c, err)
		return
	}
	if txs == nil {
		txs = []wallet.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

type debitRequest struct {
	UserID  int64           `json:"userId"`
	Email   string          `json:"email"`
	Amount  decimal.Decimal `json:"amount"`
	Role    string          `json:"role"`
	Purpose string          `json:"purpose"`
}

// Debit serves POST /wallet/debit.
func (h Handlers) Debit(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	var req debitRequest
	if !bindJSON(c, &req) {
		return
	}

	identifier := req.Email
	if req.UserID > 0 {
		identifier = strconv.FormatInt(req.UserID, 10)
	}
	accountID, err := h.target(c.Request.Context(), id, identifier)
	if err != nil {
		writeError(c, err)
		return
	}
	purpose := strings.TrimSpace(req.Purpose)
	if purpose == "" {
		purpose = "wallet debit"
	}

	tx, err := h.Wallet.Debit(c.Request.Context(), accountID, req.Amount, purpose)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

type manualCreditRequest struct {
	AccountID      int64           `json:"account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// AdminManualCredit performs an admin-only wallet credit.
func (h Handlers) AdminManualCredit(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	var req manualCreditRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.AccountID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "account_id required"})
		return
	}

	tx, err := h.Wallet.AdminManualCredit(c.Request.Context(), wallet.AdminCreditRequest{
		AdminID:        id.AccountID,
		AdminRole:      id.Role,
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// WalletSummary serves GET /wallet/summary?account_id=&from=&to= with
// RFC 3339 bounds.
func (h Handlers) WalletSummary(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	req := reporting.SummaryRequest{CallerID: id.AccountID, CallerRole: id.Role}

	if raw := c.Query("account_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "account_id must be a positive integer"})
			return
		}
		req.AccountID = v
	}
	for _, b := range []struct {
		name string
		dst  *time.Time
	}{{"from", &req.Range.From}, {"to", &req.Range.To}} {
		raw := c.Query(b.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": b.name + " must be RFC 3339"})
			return
		}
		*b.dst = t
	}
	if !rbac.IsAdmin(id.Role) && req.AccountID == 0 {
		req.AccountID = id.AccountID
	}

	out, err := h.Reporting.WalletSummary(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
