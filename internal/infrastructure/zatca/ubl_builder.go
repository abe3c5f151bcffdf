// Package zatca implementa la infraestructura ZATCA: XML UBL 2.1, hash de la cadena,
// cliente de la API Fatoora y onboarding del CSID.
package zatca

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

// Namespaces UBL 2.1 usados por ZATCA.
const (
	NsInvoice = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	NsCac     = "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	NsCbc     = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
	NsExt     = "urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2"
)

// Identificadores fijos del perfil ZATCA.
const (
	UBLVersionID           = "2.1"
	CustomizationID        = "urn:fdc:saudi:2022:vat:UBL:extension:v1.0"
	ProfileID              = "reporting:1.0"
	SignatureExtensionURI  = "urn:oasis:names:specification:ubl:dsig:enveloped:xades"
	SignatureID            = "urn:oasis:names:specification:ubl:signature:Invoice"
	SignatureInformationID = "urn:oasis:names:specification:ubl:signature:1"
	ReferenceICV           = "ICV"
	ReferencePIH           = "PIH"
	ReferenceQR            = "QR"
)

// ProfileExecutionID versión del perfil de ejecución: "2.0" en phase2, "1.0" en phase1.
func ProfileExecutionID(phase string) string {
	if phase == pkgzatca.Phase2 {
		return "2.0"
	}
	return "1.0"
}

// UBLBuilder construye el XML UBL 2.1 del documento (sin firma ni QR).
type UBLBuilder struct{}

// NewUBLBuilder crea el builder.
func NewUBLBuilder() *UBLBuilder {
	return &UBLBuilder{}
}

// Build genera el XML. En phase2 deja ext:UBLExtensions vacío como primer hijo
// (el firmador inyecta ahí la firma) y cac:Signature tras las referencias.
func (b *UBLBuilder) Build(doc *zatca.Document) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("zatca: documento vacío")
	}
	if doc.UUID == "" || doc.InvoiceNumber == "" || doc.PreviousHash == "" || doc.Counter < 1 {
		return nil, fmt.Errorf("zatca: el documento no está encadenado (uuid, número, ICV y PIH son obligatorios)")
	}
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	phase2 := doc.Phase == pkgzatca.Phase2

	root := xml.StartElement{
		Name: xml.Name{Local: "Invoice"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns"}, Value: NsInvoice},
			{Name: xml.Name{Local: "xmlns:cac"}, Value: NsCac},
			{Name: xml.Name{Local: "xmlns:cbc"}, Value: NsCbc},
			{Name: xml.Name{Local: "xmlns:ext"}, Value: NsExt},
		},
	}
	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}

	// ---- ext:UBLExtensions primer hijo (solo phase2, el firmador lo completa)
	if phase2 {
		open(enc, "ext:UBLExtensions")
		open(enc, "ext:UBLExtension")
		text(enc, "ext:ExtensionURI", SignatureExtensionURI)
		open(enc, "ext:ExtensionContent")
		closeEl(enc, "ext:ExtensionContent")
		closeEl(enc, "ext:UBLExtension")
		closeEl(enc, "ext:UBLExtensions")
	}

	writeCbc(enc, "UBLVersionID", UBLVersionID)
	writeCbc(enc, "CustomizationID", CustomizationID)
	writeCbc(enc, "ProfileID", ProfileID)
	writeCbc(enc, "ProfileExecutionID", ProfileExecutionID(doc.Phase))
	writeCbc(enc, "ID", doc.InvoiceNumber)
	writeCbc(enc, "UUID", doc.UUID)
	writeCbc(enc, "IssueDate", doc.IssuedAt.Format("2006-01-02"))
	writeCbc(enc, "IssueTime", doc.IssuedAt.Format("15:04:05"))
	writeCbcWithAttr(enc, "InvoiceTypeCode", doc.TypeCode, "name", doc.TypeName)
	if doc.Note != "" {
		writeCbcWithAttr(enc, "Note", doc.Note, "languageID", "ar")
	}
	writeCbc(enc, "DocumentCurrencyCode", doc.Currency)
	writeCbc(enc, "TaxCurrencyCode", pkgzatca.CurrencySAR)

	if doc.BillingReference != "" {
		open(enc, "cac:BillingReference")
		open(enc, "cac:InvoiceDocumentReference")
		writeCbc(enc, "ID", doc.BillingReference)
		closeEl(enc, "cac:InvoiceDocumentReference")
		closeEl(enc, "cac:BillingReference")
	}

	// ---- ICV y PIH (ambas fases)
	open(enc, "cac:AdditionalDocumentReference")
	writeCbc(enc, "ID", ReferenceICV)
	writeCbc(enc, "UUID", strconv.FormatInt(doc.Counter, 10))
	closeEl(enc, "cac:AdditionalDocumentReference")
	writeAttachmentReference(enc, ReferencePIH, doc.PreviousHash)

	if phase2 {
		open(enc, "cac:Signature")
		writeCbc(enc, "ID", SignatureID)
		writeCbc(enc, "SignatureMethod", SignatureExtensionURI)
		closeEl(enc, "cac:Signature")
	}

	b.writeParty(enc, "cac:AccountingSupplierParty", &doc.Seller, true)
	if doc.Buyer != nil {
		b.writeParty(enc, "cac:AccountingCustomerParty", doc.Buyer, phase2)
	}
	if doc.SupplyDate != nil {
		open(enc, "cac:Delivery")
		writeCbc(enc, "ActualDeliveryDate", doc.SupplyDate.Format("2006-01-02"))
		closeEl(enc, "cac:Delivery")
	}
	if doc.PaymentMeansCode != "" {
		open(enc, "cac:PaymentMeans")
		writeCbc(enc, "PaymentMeansCode", doc.PaymentMeansCode)
		closeEl(enc, "cac:PaymentMeans")
	}

	b.writeTaxTotals(enc, doc)
	b.writeLegalMonetaryTotal(enc, doc)
	for i := range doc.Lines {
		b.writeInvoiceLine(enc, doc.Currency, &doc.Lines[i])
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *UBLBuilder) writeParty(enc *xml.Encoder, wrapper string, p *zatca.Party, withAddress bool) {
	open(enc, wrapper)
	open(enc, "cac:Party")
	if withAddress {
		a := p.Address
		open(enc, "cac:PostalAddress")
		writeCbcIf(enc, "StreetName", a.Street)
		writeCbcIf(enc, "BuildingNumber", a.BuildingNumber)
		writeCbcIf(enc, "CitySubdivisionName", a.District)
		writeCbcIf(enc, "CityName", a.City)
		writeCbcIf(enc, "PostalZone", a.PostalCode)
		open(enc, "cac:Country")
		writeCbc(enc, "IdentificationCode", a.Country)
		closeEl(enc, "cac:Country")
		closeEl(enc, "cac:PostalAddress")
	}
	if p.VATNumber != "" {
		open(enc, "cac:PartyTaxScheme")
		writeCbc(enc, "CompanyID", p.VATNumber)
		open(enc, "cac:TaxScheme")
		writeCbc(enc, "ID", "VAT")
		closeEl(enc, "cac:TaxScheme")
		closeEl(enc, "cac:PartyTaxScheme")
	}
	open(enc, "cac:PartyLegalEntity")
	writeCbc(enc, "RegistrationName", p.Name)
	closeEl(enc, "cac:PartyLegalEntity")
	closeEl(enc, "cac:Party")
	closeEl(enc, wrapper)
}

// writeTaxTotals escribe dos cac:TaxTotal: el total en la moneda de impuesto y el desglose por categoría.
func (b *UBLBuilder) writeTaxTotals(enc *xml.Encoder, doc *zatca.Document) {
	open(enc, "cac:TaxTotal")
	writeCbcAmount(enc, "TaxAmount", doc.TaxTotal, pkgzatca.CurrencySAR)
	closeEl(enc, "cac:TaxTotal")

	open(enc, "cac:TaxTotal")
	writeCbcAmount(enc, "TaxAmount", doc.TaxTotal, doc.Currency)
	for _, st := range doc.TaxSubtotals {
		open(enc, "cac:TaxSubtotal")
		writeCbcAmount(enc, "TaxableAmount", st.TaxableAmount, doc.Currency)
		writeCbcAmount(enc, "TaxAmount", st.TaxAmount, doc.Currency)
		writeTaxCategory(enc, st.Category, st.Rate, st.ExemptionCode, st.ExemptionReason)
		closeEl(enc, "cac:TaxSubtotal")
	}
	closeEl(enc, "cac:TaxTotal")
}

func (b *UBLBuilder) writeLegalMonetaryTotal(enc *xml.Encoder, doc *zatca.Document) {
	open(enc, "cac:LegalMonetaryTotal")
	writeCbcAmount(enc, "LineExtensionAmount", doc.LineExtension, doc.Currency)
	writeCbcAmount(enc, "TaxExclusiveAmount", doc.TaxExclusive, doc.Currency)
	writeCbcAmount(enc, "TaxInclusiveAmount", doc.TaxInclusive, doc.Currency)
	writeCbcAmount(enc, "PayableAmount", doc.Payable, doc.Currency)
	closeEl(enc, "cac:LegalMonetaryTotal")
}

func (b *UBLBuilder) writeInvoiceLine(enc *xml.Encoder, currency string, line *zatca.DocumentLine) {
	open(enc, "cac:InvoiceLine")
	writeCbc(enc, "ID", strconv.Itoa(line.ID))
	writeCbcWithAttr(enc, "InvoicedQuantity", formatQuantity(line.Quantity), "unitCode", "PCE")
	writeCbcAmount(enc, "LineExtensionAmount", line.LineExtension, currency)

	open(enc, "cac:TaxTotal")
	writeCbcAmount(enc, "TaxAmount", line.TaxAmount, currency)
	writeCbcAmount(enc, "RoundingAmount", line.RoundingAmount, currency)
	closeEl(enc, "cac:TaxTotal")

	open(enc, "cac:Item")
	writeCbc(enc, "Name", line.Description)
	open(enc, "cac:ClassifiedTaxCategory")
	writeCbc(enc, "ID", line.VATCategory)
	writeCbc(enc, "Percent", formatPercent(line.TaxRate))
	open(enc, "cac:TaxScheme")
	writeCbc(enc, "ID", "VAT")
	closeEl(enc, "cac:TaxScheme")
	closeEl(enc, "cac:ClassifiedTaxCategory")
	closeEl(enc, "cac:Item")

	open(enc, "cac:Price")
	writeCbcAmount(enc, "PriceAmount", line.UnitPrice, currency)
	closeEl(enc, "cac:Price")
	closeEl(enc, "cac:InvoiceLine")
}

func writeTaxCategory(enc *xml.Encoder, category string, rate decimal.Decimal, code, reason string) {
	open(enc, "cac:TaxCategory")
	writeCbc(enc, "ID", category)
	writeCbc(enc, "Percent", formatPercent(rate))
	writeCbcIf(enc, "TaxExemptionReasonCode", code)
	writeCbcIf(enc, "TaxExemptionReason", reason)
	open(enc, "cac:TaxScheme")
	writeCbc(enc, "ID", "VAT")
	closeEl(enc, "cac:TaxScheme")
	closeEl(enc, "cac:TaxCategory")
}

func writeAttachmentReference(enc *xml.Encoder, id, value string) {
	open(enc, "cac:AdditionalDocumentReference")
	writeCbc(enc, "ID", id)
	open(enc, "cac:Attachment")
	_ = enc.EncodeToken(xml.StartElement{
		Name: xml.Name{Local: "cbc:EmbeddedDocumentBinaryObject"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "mimeCode"}, Value: "text/plain"}},
	})
	_ = enc.EncodeToken(xml.CharData(value))
	closeEl(enc, "cbc:EmbeddedDocumentBinaryObject")
	closeEl(enc, "cac:Attachment")
	closeEl(enc, "cac:AdditionalDocumentReference")
}

func open(enc *xml.Encoder, name string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: name}})
}

func closeEl(enc *xml.Encoder, name string) {
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}})
}

func text(enc *xml.Encoder, name, value string) {
	open(enc, name)
	_ = enc.EncodeToken(xml.CharData(value))
	closeEl(enc, name)
}

func writeCbc(enc *xml.Encoder, local, value string) {
	text(enc, "cbc:"+local, value)
}

func writeCbcIf(enc *xml.Encoder, local, value string) {
	if value != "" {
		writeCbc(enc, local, value)
	}
}

func writeCbcAmount(enc *xml.Encoder, local string, value decimal.Decimal, currency string) {
	writeCbcWithAttr(enc, local, formatDecimal(value), "currencyID", currency)
}

func writeCbcWithAttr(enc *xml.Encoder, local, value, attrLocal, attrValue string) {
	name := "cbc:" + local
	_ = enc.EncodeToken(xml.StartElement{
		Name: xml.Name{Local: name},
		Attr: []xml.Attr{{Name: xml.Name{Local: attrLocal}, Value: attrValue}},
	})
	_ = enc.EncodeToken(xml.CharData(value))
	closeEl(enc, name)
}

func formatDecimal(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

func formatPercent(rate decimal.Decimal) string {
	return rate.Mul(decimal.NewFromInt(100)).Round(2).StringFixed(2)
}

func formatQuantity(q decimal.Decimal) string {
	return q.Round(6).String()
}
