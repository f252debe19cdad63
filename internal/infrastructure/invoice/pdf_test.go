package invoice

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFRenderer_Render(t *testing.T) {
	paid := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)
	out, err := NewPDFRenderer("ServiceMart").Render(context.Background(), Data{
		OrderID:         10,
		IssuedAt:        paid,
		PaidAt:          &paid,
		CustomerName:    "Meena Shah",
		CustomerEmail:   "meena@example.com",
		ServiceTitle:    "GST Filing",
		Price:           decimal.RequireFromString("1000.00"),
		PaymentMethod:   "wallet",
		PartnerBusiness: "Kumar Associates",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "service_invoices/order_10/invoice_order_10.pdf", Key(10))
}
