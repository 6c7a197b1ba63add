package pdf

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("pdf",
	fx.Provide(NewProvider),
)

// ReceiptData is everything printed on a payment receipt.
type ReceiptData struct {
	IssuerName    string
	ReceiptNumber string
	AccountID     string
	DatePaid      string
	ServicePeriod string
	Items         []ReceiptItem
	Total         string
}

type ReceiptItem struct {
	Description string
	Qty         int
	Amount      string
}

type Provider interface {
	GenerateReceipt(ctx context.Context, data ReceiptData) ([]byte, error)
}

func NewProvider() Provider {
	return &MarotoProvider{}
}
