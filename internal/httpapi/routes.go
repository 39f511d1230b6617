package httpapi

import (
	"glovendor/internal/rbac"
	"glovendor/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Register wires every route. authMW must put an auth.Identity on the
// request context.
func Register(r *gin.Engine, h Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", h.Healthz)
	r.GET("/payments/verify/:reference", h.VerifyPayment)
	r.POST("/payments/webhook", h.PaymentWebhook)

	api := r.Group("/")
	api.Use(authMW)

	// Money-moving routes also require a live account whose kind matches the token.
	active := wallet.RequireActiveAccount(h.Wallet)

	w := api.Group("/wallet")
	{
		w.GET("/balance", h.GetBalance)
		w.GET("/transactions", h.ListTransactions)
		w.GET("/summary", h.WalletSummary)
		w.POST("/debit", active, h.Debit)
	}

	api.POST("/payments/initiate", active, h.InitiatePayment)

	api.GET("/data_plans", h.ListPlans)
	api.GET("/subvendors/:id/plans", h.ListSubvendorOffers)
	api.GET("/subvendor_plans/:id/co-vendor-stats", h.CoVendorStats)

	sellers := api.Group("/")
	sellers.Use(rbac.RequireAnyRole(rbac.RoleSubvendor, rbac.RoleAdmin))
	{
		sellers.POST("/subvendors/:id/apply-margin", h.ApplyMargin)
		sellers.PATCH("/subvendor_plans/:id", h.SetCustomPrice)
	}

	api.POST("/purchases",
		rbac.RequireAnyRole(rbac.RoleCustomer, rbac.RoleRetailer, rbac.RoleSubvendor, rbac.RoleAggregator),
		active,
		h.Purchase,
	)

	admin := api.Group("/admin")
	admin.Use(rbac.RequireAdmin())
	{
		admin.POST("/wallets/manual-credit", h.AdminManualCredit)
		admin.POST("/subvendors/:id/offers", h.GrantOffer)
		admin.PUT("/data_plans/:id/base-price", h.UpdateBasePrice)
	}
}
