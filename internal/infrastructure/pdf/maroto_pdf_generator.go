// Package pdf genera la representación impresa de la factura ZATCA (factura tributaria
// o factura tributaria simplificada) con el QR TLV exigido por la autoridad.
//
// Layout de la página A4:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  HEADER: Vendedor + VAT      │  Título + N° + Fecha         │
//	│  ─────────────────────────────────────────────────────────  │
//	│  VENDEDOR: Dirección nacional                                │
//	│  COMPRADOR: Nombre + VAT + dirección (solo estándar)         │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TABLA: Descripción | Cant | P.Unit | IVA% | IVA | Total     │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TOTALES: Neto / IVA / Total con IVA                         │
//	│  ─────────────────────────────────────────────────────────  │
//	│  FOOTER: QR + UUID + PIH                                     │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"context"
	"fmt"
	"strings"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

var (
	colorPrimary = &props.Color{Red: 0, Green: 108, Blue: 53}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
	colorWhite   = &props.Color{Red: 255, Green: 255, Blue: 255}
)

// MarotoPDFGenerator genera el PDF de la factura con Maroto v2.
type MarotoPDFGenerator struct{}

// NewMarotoPDFGenerator construye el generador.
func NewMarotoPDFGenerator() *MarotoPDFGenerator { return &MarotoPDFGenerator{} }

// GenerateInvoicePDF genera el PDF del documento y devuelve sus bytes. qr es el Base64 TLV.
func (g *MarotoPDFGenerator) GenerateInvoicePDF(_ context.Context, doc *zatca.Document, qr string) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("pdf: documento vacío")
	}
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle(documentTitle(doc), true).
		WithAuthor(doc.Seller.Name, true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(doc))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(partyRow("SELLER", &doc.Seller))
	if doc.Buyer != nil {
		m.AddRows(partyRow("BUYER", doc.Buyer))
	}
	if doc.BillingReference != "" {
		m.AddRows(row.New(6).Add(col.New(12).Add(
			text.New("Reference invoice: "+doc.BillingReference, props.Text{Size: 8, Top: 1, Color: colorGray}),
		)))
	}
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	m.AddRows(tableHeaderRow())
	m.AddRows(tableDetailRows(doc)...)

	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(totalsRow(doc))

	m.AddRows(line.NewRow(3))
	m.AddRows(line.NewRow(1, props.Line{Color: colorGray, Thickness: 0.3}))
	m.AddRows(footerRows(doc, qr)...)

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar documento: %w", err)
	}
	return out.GetBytes(), nil
}

func documentTitle(doc *zatca.Document) string {
	title := "Tax Invoice"
	if doc.IsSimplified() {
		title = "Simplified Tax Invoice"
	}
	switch doc.TypeCode {
	case pkgzatca.TypeCodeCreditNote:
		title += " - Credit Note"
	case pkgzatca.TypeCodeDebitNote:
		title += " - Debit Note"
	}
	return title
}

func headerRow(doc *zatca.Document) core.Row {
	return row.New(18).Add(
		col.New(7).Add(
			text.New(doc.Seller.Name, props.Text{
				Style: fontstyle.Bold, Size: 13, Color: colorPrimary, Top: 1,
			}),
			text.New("VAT No.: "+doc.Seller.VATNumber, props.Text{
				Size: 9, Top: 9, Color: colorGray,
			}),
		),
		col.New(5).Add(
			text.New(strings.ToUpper(documentTitle(doc)), props.Text{
				Style: fontstyle.Bold, Size: 8, Align: align.Right,
				Color: colorPrimary, Top: 1,
			}),
			text.New(doc.InvoiceNumber, props.Text{
				Style: fontstyle.Bold, Size: 11, Align: align.Right, Top: 7,
			}),
			text.New("Issue date: "+doc.IssuedAt.Format("2006-01-02 15:04:05"), props.Text{
				Size: 8, Align: align.Right, Top: 14, Color: colorGray,
			}),
		),
	)
}

func partyRow(label string, p *zatca.Party) core.Row {
	detail := "Address: " + formatAddress(p.Address)
	if label == "BUYER" && p.VATNumber != "" {
		detail = "VAT No.: " + p.VATNumber + "   |   " + detail
	}
	return row.New(14).Add(
		col.New(12).Add(
			text.New(label, props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(p.Name, props.Text{Style: fontstyle.Bold, Size: 10, Top: 5}),
			text.New(detail, props.Text{Size: 8, Top: 10, Color: colorGray}),
		),
	)
}

func tableHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 8, Align: a,
			Color: colorWhite, Top: 2, Left: 1, Right: 1,
		}))
	}
	return row.New(8).Add(
		h("Description", 4, align.Left),
		h("Qty", 1, align.Center),
		h("Unit price", 2, align.Right),
		h("VAT %", 1, align.Center),
		h("VAT", 2, align.Right),
		h("Total", 2, align.Right),
	).WithStyle(&props.Cell{BackgroundColor: colorPrimary})
}

func tableDetailRows(doc *zatca.Document) []core.Row {
	result := make([]core.Row, 0, len(doc.Lines))
	for _, l := range doc.Lines {
		result = append(result, row.New(7).Add(
			col.New(4).Add(text.New(l.Description, props.Text{Size: 8, Top: 1, Left: 1})),
			col.New(1).Add(text.New(l.Quantity.String(), props.Text{Size: 8, Align: align.Center, Top: 1})),
			col.New(2).Add(text.New(formatMoney(l.UnitPrice), props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1})),
			col.New(1).Add(text.New(l.TaxRate.Mul(decimal.NewFromInt(100)).StringFixed(0)+"%", props.Text{Size: 8, Align: align.Center, Top: 1})),
			col.New(2).Add(text.New(formatMoney(l.TaxAmount), props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1})),
			col.New(2).Add(text.New(formatMoney(l.RoundingAmount), props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1})),
		))
	}
	return result
}

func totalsRow(doc *zatca.Document) core.Row {
	label := func(s string) core.Component {
		return text.New(s, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Right: 2})
	}
	value := func(s string, top float64) core.Component {
		return text.New(s, props.Text{Size: 9, Align: align.Right, Right: 1, Top: top})
	}
	grand := func(s string, right, top float64) core.Component {
		return text.New(s, props.Text{
			Style: fontstyle.Bold, Size: 10, Align: align.Right,
			Color: colorPrimary, Right: right, Top: top,
		})
	}
	cur := " " + doc.Currency

	return row.New(22).Add(
		col.New(4),
		col.New(4).Add(
			label("Total excluding VAT:"),
			text.New("Total VAT:", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Right: 2, Top: 6}),
			grand("Total including VAT:", 2, 12),
		),
		col.New(4).Add(
			value(formatMoney(doc.TaxExclusive)+cur, 0),
			value(formatMoney(doc.TaxTotal)+cur, 6),
			grand(formatMoney(doc.Payable)+cur, 1, 12),
		),
	)
}

func footerRows(doc *zatca.Document, qr string) []core.Row {
	info := fmt.Sprintf("UUID: %s\nICV: %d", doc.UUID, doc.Counter)
	if doc.PreviousHash != "" {
		info += "\nPIH: " + doc.PreviousHash
	}
	if qr == "" {
		return []core.Row{row.New(14).Add(col.New(12).Add(
			text.New(info, props.Text{Size: 7, Top: 2, Color: colorGray}),
		))}
	}
	return []core.Row{row.New(50).Add(
		col.New(4).Add(code.NewQr(qr, props.Rect{Percent: 95, Center: true})),
		col.New(8).Add(
			text.New("Scan the QR code to verify this invoice with the ZATCA VAT app.", props.Text{
				Size: 8, Top: 4, Left: 3, Color: colorGray,
			}),
			text.New(info, props.Text{Size: 7, Top: 14, Left: 3, Color: colorGray}),
		),
	)}
}

func formatAddress(a entity.Address) string {
	parts := make([]string, 0, 6)
	for _, p := range []string{a.BuildingNumber, a.Street, a.District, a.City, a.PostalCode, a.Country} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

// formatMoney 2 decimales con separador de miles: 1234.5 → "1,234.50".
func formatMoney(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")
	n := len(intPart)
	if n <= 3 {
		return sign + intPart + "." + frac
	}
	buf := make([]byte, 0, n+n/3)
	for i, c := range []byte(intPart) {
		if i > 0 && (n-i)%3 == 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, c)
	}
	return sign + string(buf) + "." + frac
}
