package settlement

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/tealeg/xlsx"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/s3backup"
)

const (
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"

	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypePDF  = "application/pdf"
)

var statementHeaders = []string{"Payment ID", "Order ID", "Order Date", "Payment Date", "Order Amount", "Commission", "Payout"}

// RenderXLSX writes the settlement summary and its line items as a workbook.
func RenderXLSX(s *models.Settlement) ([]byte, error) {
	file := xlsx.NewFile()

	summary, err := file.AddSheet("Summary")
	if err != nil {
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}
	for _, kv := range summaryRows(s) {
		row := summary.AddRow()
		label := row.AddCell()
		label.SetString(kv[0])
		label.SetStyle(boldStyle())
		row.AddCell().SetString(kv[1])
	}

	items, err := file.AddSheet("Line Items")
	if err != nil {
		return nil, fmt.Errorf("failed to create line item sheet: %w", err)
	}
	header := items.AddRow()
	for _, h := range statementHeaders {
		cell := header.AddCell()
		cell.SetString(h)
		cell.SetStyle(boldStyle())
	}
	for _, li := range s.LineItems {
		row := items.AddRow()
		row.AddCell().SetString(li.PaymentID)
		row.AddCell().SetString(li.OrderID)
		row.AddCell().SetString(li.OrderDate.UTC().Format(time.DateOnly))
		row.AddCell().SetString(li.PaymentDate.UTC().Format(time.DateOnly))
		row.AddCell().SetInt(int(li.OrderAmount))
		row.AddCell().SetInt(int(li.CommissionAmount))
		row.AddCell().SetInt(int(li.SettlementAmount))
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderPDF writes a printable statement.
func RenderPDF(s *models.Settlement) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, "Settlement Statement")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 10)
	for _, kv := range summaryRows(s) {
		pdf.CellFormat(60, 6, kv[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, kv[1], "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	widths := []float64{62, 45, 30, 30, 36, 36, 36}
	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(220, 220, 220)
	for i, h := range statementHeaders {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, li := range s.LineItems {
		cols := []string{
			li.PaymentID,
			li.OrderID,
			li.OrderDate.UTC().Format(time.DateOnly),
			li.PaymentDate.UTC().Format(time.DateOnly),
			li.OrderAmount.Major(),
			li.CommissionAmount.Major(),
			li.SettlementAmount.Major(),
		}
		for i, v := range cols {
			align := "L"
			if i >= 4 {
				align = "R"
			}
			pdf.CellFormat(widths[i], 6, v, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// Render returns the statement in the requested format with its content type.
func Render(s *models.Settlement, format string) ([]byte, string, error) {
	switch format {
	case FormatXLSX, "":
		b, err := RenderXLSX(s)
		return b, ContentTypeXLSX, err
	case FormatPDF:
		b, err := RenderPDF(s)
		return b, ContentTypePDF, err
	default:
		return nil, "", fmt.Errorf("unsupported statement format %q", format)
	}
}

func summaryRows(s *models.Settlement) [][2]string {
	rows := [][2]string{
		{"Settlement ID", s.ID},
		{"Vendor", s.VendorID},
		{"Period", s.PeriodStart.UTC().Format(time.DateOnly) + " - " + s.PeriodEnd.UTC().Format(time.DateOnly)},
		{"Status", string(s.Status)},
		{"Payments", fmt.Sprintf("%d", len(s.LineItems))},
		{"Total", s.TotalAmount.Format(s.Currency)},
		{"Commission (" + s.CommissionPercentage.String() + "%)", s.CommissionAmount.Format(s.Currency)},
		{"Adjustment", s.AdjustmentAmount.Format(s.Currency)},
		{"Payout", s.SettlementAmount.Format(s.Currency)},
	}
	if s.AdjustmentReason != "" {
		rows = append(rows, [2]string{"Adjustment reason", s.AdjustmentReason})
	}
	if s.BankReference != "" {
		rows = append(rows, [2]string{"Bank reference", s.BankReference})
	}
	return rows
}

func boldStyle() *xlsx.Style {
	style := xlsx.NewStyle()
	font := xlsx.DefaultFont()
	font.Bold = true
	style.Font = *font
	return style
}

// ObjectStore is the part of the S3 client used for statements.
type ObjectStore interface {
	Put(ctx context.Context, objectKey, contentType string, body []byte, metadata map[string]string) (*s3backup.UploadResult, error)
}

// S3Archiver renders the xlsx statement and stores it in the archive bucket.
type S3Archiver struct {
	store ObjectStore
}

func NewS3Archiver(store ObjectStore) *S3Archiver {
	return &S3Archiver{store: store}
}

func (a *S3Archiver) Archive(ctx context.Context, s *models.Settlement) (string, error) {
	body, err := RenderXLSX(s)
	if err != nil {
		return "", err
	}
	key := s3backup.StatementKey(s.VendorID, s.ID, s.PeriodStart, FormatXLSX)
	_, err = a.store.Put(ctx, key, ContentTypeXLSX, body, map[string]string{
		"settlement-id": s.ID,
		"vendor-id":     s.VendorID,
		"bank-ref":      s.BankReference,
	})
	if err != nil {
		return "", err
	}
	return key, nil
}
