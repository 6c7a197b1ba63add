package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
)

type creditActionRequest struct {
	Action string `json:"action"`
}

type grantCreditsRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

func (s *Server) GetBalance(c *gin.Context) {
	credits, err := s.billingSvc.GetBalance(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"credits": credits}})
}

func (s *Server) ListUsage(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items, pageInfo, err := s.ledgerSvc.ListUsage(c.Request.Context(), c.Param("account_id"), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": pageInfo})
}

func (s *Server) CheckCredits(c *gin.Context) {
	action, ok := bindCreditAction(c)
	if !ok {
		return
	}

	sufficient, err := s.ledgerSvc.HasSufficientCredits(c.Request.Context(), c.Param("account_id"), action)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"action": action, "sufficient": sufficient}})
}

func (s *Server) DeductCredits(c *gin.Context) {
	action, ok := bindCreditAction(c)
	if !ok {
		return
	}

	usage, err := s.ledgerSvc.Deduct(c.Request.Context(), c.Param("account_id"), action)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": usage})
}

func (s *Server) OpenAccount(c *gin.Context) {
	balance, err := s.ledgerSvc.OpenAccount(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": balance})
}

// GrantCredits is the manual top-up path. The reference makes retries safe:
// the same reference is granted at most once.
func (s *Server) GrantCredits(c *gin.Context) {
	var req grantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		AbortWithError(c, newValidationError("reference", "required", "reference is required"))
		return
	}

	ctx := c.Request.Context()
	accountID := c.Param("account_id")
	granted, err := s.ledgerSvc.Grant(ctx, accountID, req.Amount, ledgerdomain.GrantSource{
		Type: ledgerdomain.SourceTypeAdmin,
		ID:   reference,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	balance, err := s.ledgerSvc.Balance(ctx, accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"granted": granted, "credits": balance.Credits}})
}

func bindCreditAction(c *gin.Context) (string, bool) {
	var req creditActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return "", false
	}
	action := strings.ToUpper(strings.TrimSpace(req.Action))
	if action == "" {
		AbortWithError(c, newValidationError("action", "required", "action is required"))
		return "", false
	}
	c.Set("credit_action", action)
	return action, true
}
