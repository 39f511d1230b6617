package httpapi

import (
	"errors"
	"io"
	"net/http"

	"glovendor/internal/payment"
	"glovendor/internal/payment/paystack"
	"glovendor/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const maxWebhookBody = 1 << 20

type initiateRequest struct {
	Email  string          `json:"email"`
	Amount decimal.Decimal `json:"amount"`
	Role   string          `json:"role"`
}

// InitiatePayment serves POST /payments/initiate.
func (h Handlers) InitiatePayment(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	var req initiateRequest
	if !bindJSON(c, &req) {
		return
	}
	accountID, err := h.target(c.Request.Context(), id, req.Email)
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := h.Payments.Initiate(c.Request.Context(), accountID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// VerifyPayment serves GET /payments/verify/:reference. It is public: the
// gateway redirects the payer here, and the outcome is always re-queried.
func (h Handlers) VerifyPayment(c *gin.Context) {
	res, err := h.Payments.Verify(c.Request.Context(), c.Param("reference"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": res.Status, "data": res})
}

// PaymentWebhook serves POST /payments/webhook. The payload only names a
// reference; settlement still goes through Verify.
func (h Handlers) PaymentWebhook(c *gin.Context) {
	log := logger.FromGin(c)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	evt, err := paystack.ParseWebhook(h.WebhookSecret, body, c.GetHeader(paystack.SignatureHeader))
	if err != nil {
		if errors.Is(err, paystack.ErrBadSignature) {
			log.Warn("webhook signature rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if evt.Event != paystack.EventChargeSuccess || evt.Data.Reference == "" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	res, err := h.Payments.Verify(c.Request.Context(), evt.Data.Reference)
	switch {
	case errors.Is(err, payment.ErrGatewayUnavailable):
		// Non-2xx makes the gateway redeliver.
		writeError(c, err)
		return
	case err != nil:
		log.Warn("webhook verify failed", "reference", evt.Data.Reference, "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": res.Status})
}
