package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/creditledger/internal/billing/domain"
)

type changePlanRequest struct {
	Tier string `json:"tier"`
}

func (s *Server) GetStatus(c *gin.Context) {
	resp, err := s.billingSvc.GetStatus(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) StartCheckout(c *gin.Context) {
	var req billingdomain.StartCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Tier) == "" {
		AbortWithError(c, newValidationError("tier", "required", "tier is required"))
		return
	}
	req.AccountID = c.Param("account_id")

	resp, err := s.billingSvc.StartCheckout(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) OpenBillingPortal(c *gin.Context) {
	url, err := s.billingSvc.OpenBillingPortal(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"url": url}})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	effective, err := s.billingSvc.CancelAtPeriodEnd(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"cancel_at_period_end": true,
		"effective_at":         effective.UTC().Format(time.RFC3339),
	}})
}

func (s *Server) ReactivateSubscription(c *gin.Context) {
	if err := s.billingSvc.Reactivate(c.Request.Context(), c.Param("account_id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"cancel_at_period_end": false}})
}

func (s *Server) ChangePlan(c *gin.Context) {
	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Tier) == "" {
		AbortWithError(c, newValidationError("tier", "required", "tier is required"))
		return
	}

	resp, err := s.billingSvc.ChangeTier(c.Request.Context(), c.Param("account_id"), req.Tier)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
