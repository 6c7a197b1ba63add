package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/creditledger/internal/payment/domain"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
)

func (s *Server) ListAccountPayments(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items, pageInfo, err := s.paymentSvc.ListByAccount(c.Request.Context(), c.Param("account_id"), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": pageInfo})
}

func (s *Server) ListPayments(c *gin.Context) {
	var query struct {
		pagination.Pagination
		AccountID string `form:"account_id"`
		Status    string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items, pageInfo, err := s.paymentSvc.ListAll(c.Request.Context(), paymentdomain.ListFilter{
		AccountID: strings.TrimSpace(query.AccountID),
		Status:    paymentdomain.Status(strings.ToUpper(strings.TrimSpace(query.Status))),
	}, query.Pagination)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": pageInfo})
}

func (s *Server) DownloadReceipt(c *gin.Context) {
	invoiceID := strings.TrimSpace(c.Param("invoice_id"))
	pdf, err := s.paymentSvc.Receipt(c.Request.Context(), c.Param("account_id"), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "receipt-"+invoiceID+".pdf"))
	c.Data(http.StatusOK, "application/pdf", pdf)
}
