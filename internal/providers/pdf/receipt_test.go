package pdf

import (
	"bytes"
	"context"
	"testing"
)

func TestGenerateReceiptProducesPDF(t *testing.T) {
	out, err := NewProvider().GenerateReceipt(context.Background(), ReceiptData{
		IssuerName:    "creditledger",
		ReceiptNumber: "in_123",
		AccountID:     "acct_1",
		DatePaid:      "2024-03-01",
		ServicePeriod: "2024-03-01 - 2024-04-01",
		Items:         []ReceiptItem{{Description: "Pro Plan", Qty: 1, Amount: "USD 299.00"}},
		Total:         "USD 299.00",
	})
	if err != nil {
		t.Fatalf("generate receipt: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF")) {
		t.Fatalf("expected PDF output")
	}
}

func TestGenerateReceiptHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewProvider().GenerateReceipt(ctx, ReceiptData{}); err == nil {
		t.Fatalf("expected context error")
	}
}
