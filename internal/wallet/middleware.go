package wallet

import (
	"context"
	"errors"
	"net/http"

	"glovendor/internal/auth"
	"glovendor/internal/rbac"

	"github.com/gin-gonic/gin"
)

// AccountReader is the minimal wallet service interface needed by middleware.
type AccountReader interface {
	Account(ctx context.Context, id int64) (Account, error)
}

// RequireActiveAccount blocks money-moving requests from callers whose
// account is missing, deactivated, or of a kind that disagrees with the
// token role. super_admin is not an account kind and bypasses the check.
func RequireActiveAccount(svc AccountReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := auth.IdentityFrom(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
			return
		}
		if rbac.IsSuperAdmin(id.Role) {
			c.Next()
			return
		}

		a, err := svc.Account(c.Request.Context(), id.AccountID)
		switch {
		case errors.Is(err, ErrAccountNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		case err != nil:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "account lookup failed"})
			return
		}
		if !a.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account inactive"})
			return
		}
		if a.Kind.Role() != id.Role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role does not match account"})
			return
		}
		c.Next()
	}
}
