package invoice

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

// Data 渲染一张发票所需的全部字段
type Data struct {
	OrderID         int64
	IssuedAt        time.Time
	PaidAt          *time.Time
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	ServiceTitle    string
	Price           decimal.Decimal
	PaymentMethod   string
	PartnerBusiness string
	Brand           string
}

// Renderer 只约定输入输出，排版细节属于实现
type Renderer interface {
	Render(ctx context.Context, data Data) ([]byte, error)
}

// FileName 发票文件名
func FileName(orderID int64) string {
	return fmt.Sprintf("invoice_order_%d.pdf", orderID)
}

// Key 发票在存储中的位置，例如 service_invoices/order_10/invoice_order_10.pdf
func Key(orderID int64) string {
	return fmt.Sprintf("service_invoices/order_%d/%s", orderID, FileName(orderID))
}

type PDFRenderer struct {
	brand string
}

func NewPDFRenderer(brand string) *PDFRenderer {
	return &PDFRenderer{brand: brand}
}

func (r *PDFRenderer) Render(ctx context.Context, data Data) ([]byte, error) {
	if data.Brand == "" {
		data.Brand = r.brand
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Invoice #%d", data.OrderID), true)
	pdf.SetCreationDate(data.IssuedAt)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, data.Brand, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("Invoice for Order #%d", data.OrderID), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Issued: "+data.IssuedAt.Format("02 Jan 2006"), "", 1, "L", false, 0, "")
	if data.PaidAt != nil {
		pdf.CellFormat(0, 6, "Paid: "+data.PaidAt.Format("02 Jan 2006 15:04"), "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Billed to", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, data.CustomerName, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, data.CustomerEmail, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, data.CustomerPhone, "", 1, "L", false, 0, "")
	if data.PartnerBusiness != "" {
		pdf.CellFormat(0, 6, "Via partner: "+data.PartnerBusiness, "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(235, 235, 235)
	pdf.CellFormat(130, 8, "Service", "1", 0, "L", true, 0, "")
	pdf.CellFormat(50, 8, "Amount (INR)", "1", 1, "R", true, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(130, 8, data.ServiceTitle, "1", 0, "L", false, 0, "")
	pdf.CellFormat(50, 8, data.Price.StringFixed(2), "1", 1, "R", false, 0, "")
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(130, 8, "Total", "1", 0, "R", false, 0, "")
	pdf.CellFormat(50, 8, data.Price.StringFixed(2), "1", 1, "R", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, "Payment method: "+data.PaymentMethod, "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("生成发票 PDF 失败: %w", err)
	}
	return buf.Bytes(), nil
}
