package httpapi

import (
	"net/http"

	"glovendor/internal/pricing"
	"glovendor/internal/rbac"
	"glovendor/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func (h Handlers) ListPlans(c *gin.Context) {
	plans, err := h.Pricing.Plans(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// ListSubvendorOffers serves GET /subvendors/:id/plans.
func (h Handlers) ListSubvendorOffers(c *gin.Context) {
	subvendorID, ok := pathID(c, "id")
	if !ok {
		return
	}
	offers, err := h.Pricing.ListOffers(c.Request.Context(), subvendorID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}

type marginRequest struct {
	Margin decimal.Decimal `json:"margin"`
}

// ApplyMargin serves POST /subvendors/:id/apply-margin. A subvendor may only
// reprice its own offers.
func (h Handlers) ApplyMargin(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	subvendorID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if subvendorID != id.AccountID && !rbac.IsAdmin(id.Role) {
		writeError(c, wallet.ErrForbidden)
		return
	}
	var req marginRequest
	if !bindJSON(c, &req) {
		return
	}

	offers, err := h.Pricing.ApplyMargin(c.Request.Context(), subvendorID, req.Margin)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}

type customPriceRequest struct {
	CustomPrice decimal.Decimal `json:"customPrice"`
}

// SetCustomPrice serves PATCH /subvendor_plans/:id.
func (h Handlers) SetCustomPrice(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	offerID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req customPriceRequest
	if !bindJSON(c, &req) {
		return
	}
	offer, err := h.Pricing.Offer(c.Request.Context(), offerID)
	if err != nil {
		writeError(c, err)
		return
	}
	if offer.SubvendorID != id.AccountID && !rbac.IsAdmin(id.Role) {
		writeError(c, wallet.ErrForbidden)
		return
	}

	updated, err := h.Pricing.SetCustomPrice(c.Request.Context(), offerID, req.CustomPrice)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// CoVendorStats serves GET /subvendor_plans/:id/co-vendor-stats.
func (h Handlers) CoVendorStats(c *gin.Context) {
	offerID, ok := pathID(c, "id")
	if !ok {
		return
	}
	check, err := h.Pricing.PriceWarning(c.Request.Context(), offerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

type grantRequest struct {
	PlanID int64 `json:"plan_id"`
}

// GrantOffer serves POST /admin/subvendors/:id/offers.
func (h Handlers) GrantOffer(c *gin.Context) {
	subvendorID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req grantRequest
	if !bindJSON(c, &req) {
		return
	}
	offer, err := h.Pricing.GrantOffer(c.Request.Context(), subvendorID, req.PlanID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, offer)
}

type basePriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// UpdateBasePrice serves PUT /admin/data_plans/:id/base-price.
func (h Handlers) UpdateBasePrice(c *gin.Context) {
	planID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req basePriceRequest
	if !bindJSON(c, &req) {
		return
	}
	plan, offers, err := h.Pricing.UpdateBasePrice(c.Request.Context(), planID, req.Price)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan, "offers": offers})
}

type purchaseRequest struct {
	Level       pricing.Level    `json:"level"`
	ItemID      int64            `json:"item_id"`
	QuotedPrice *decimal.Decimal `json:"quoted_price"`
	MSISDN      string           `json:"msisdn"`
}

// Purchase serves POST /purchases. The buyer is always the caller.
func (h Handlers) Purchase(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	var req purchaseRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Level == "" {
		req.Level = pricing.LevelOffer
	}

	receipt, err := h.Pricing.Purchase(c.Request.Context(), pricing.PurchaseRequest{
		BuyerID:     id.AccountID,
		Level:       req.Level,
		ItemID:      req.ItemID,
		QuotedPrice: req.QuotedPrice,
		MSISDN:      req.MSISDN,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}
