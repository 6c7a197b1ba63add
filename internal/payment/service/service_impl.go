package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/smallbiznis/creditledger/internal/config"
	paymentdomain "github.com/smallbiznis/creditledger/internal/payment/domain"
	plandomain "github.com/smallbiznis/creditledger/internal/plan/domain"
	"github.com/smallbiznis/creditledger/internal/providers/pdf"
	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Cfg     config.Config
	Repo    paymentdomain.Repository
	SubRepo subscriptiondomain.Repository
	PlanSvc plandomain.Service
	PDF     pdf.Provider
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	issuer  string
	repo    paymentdomain.Repository
	subRepo subscriptiondomain.Repository
	planSvc plandomain.Service
	pdf     pdf.Provider
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("payment.service"),
		issuer:  p.Cfg.AppName,
		repo:    p.Repo,
		subRepo: p.SubRepo,
		planSvc: p.PlanSvc,
		pdf:     p.PDF,
	}
}

func (s *Service) ListAll(ctx context.Context, filter paymentdomain.ListFilter, page pagination.Pagination) ([]paymentdomain.Payment, pagination.PageInfo, error) {
	filter.AccountID = strings.TrimSpace(filter.AccountID)
	switch filter.Status {
	case "", paymentdomain.StatusPaid, paymentdomain.StatusFailed:
	default:
		return nil, pagination.PageInfo{}, paymentdomain.ErrInvalidStatus
	}
	return s.list(ctx, filter, page)
}

func (s *Service) ListByAccount(ctx context.Context, accountID string, page pagination.Pagination) ([]paymentdomain.Payment, pagination.PageInfo, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, pagination.PageInfo{}, paymentdomain.ErrInvalidAccount
	}
	return s.list(ctx, paymentdomain.ListFilter{AccountID: accountID}, page)
}

func (s *Service) list(ctx context.Context, filter paymentdomain.ListFilter, page pagination.Pagination) ([]paymentdomain.Payment, pagination.PageInfo, error) {
	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}

	limit := page.Limit()
	payments, err := s.repo.List(ctx, s.db, filter, cursor, limit)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	items, info := pagination.Trim(payments, limit, func(p paymentdomain.Payment) string {
		return strconv.FormatInt(p.ID.Int64(), 10)
	})
	return items, info, nil
}

// Receipt renders a PDF receipt for a paid invoice owned by the account.
func (s *Service) Receipt(ctx context.Context, accountID, invoiceID string) ([]byte, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, paymentdomain.ErrInvalidAccount
	}

	payment, err := s.repo.FindByInvoiceID(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.AccountID != accountID {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	if payment.Status != paymentdomain.StatusPaid {
		return nil, paymentdomain.ErrPaymentNotPaid
	}

	description := "Subscription payment"
	servicePeriod := "-"
	sub, err := s.subRepo.FindByAccountID(ctx, s.db, accountID, false)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		if plan, err := s.planSvc.GetByTier(ctx, sub.Tier); err == nil && plan != nil {
			description = fmt.Sprintf("%s plan subscription", plan.Name)
		}
		if sub.CurrentPeriodStart != nil && sub.CurrentPeriodEnd != nil {
			servicePeriod = fmt.Sprintf("%s - %s",
				sub.CurrentPeriodStart.Format("2006-01-02"),
				sub.CurrentPeriodEnd.Format("2006-01-02"))
		}
	}

	amount := FormatAmount(payment.Amount, payment.Currency)
	return s.pdf.GenerateReceipt(ctx, pdf.ReceiptData{
		IssuerName:    s.issuer,
		ReceiptNumber: payment.ExternalInvoiceID,
		AccountID:     payment.AccountID,
		DatePaid:      payment.RecordedAt.UTC().Format("2006-01-02"),
		ServicePeriod: servicePeriod,
		Items: []pdf.ReceiptItem{
			{Description: description, Qty: 1, Amount: amount},
		},
		Total: amount,
	})
}

// FormatAmount renders minor units as "12.34 USD".
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = strings.ToUpper(paymentdomain.DefaultCurrency)
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, currency)
}
