package zatca

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

var ublTolerance = decimal.RequireFromString("0.01")

// UBLRules datos del tenant contra los que se valida el XML.
type UBLRules struct {
	Phase     string
	TaxNumber string
}

// ValidateUBL aplica las reglas de negocio UBL/ZATCA al XML final (con QR y, en phase2, firma)
// antes de enviarlo. Devuelve *zatca.ValidationError con todas las reglas incumplidas.
func ValidateUBL(xmlBytes []byte, rules UBLRules) error {
	var errs zatca.ValidationErrors
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		errs.Add("ubl", fmt.Sprintf("XML mal formado: %v", err))
		return errs.Err()
	}
	root := doc.Root()
	if root == nil || root.Tag != "Invoice" {
		errs.Add("ubl", "la raíz debe ser Invoice")
		return errs.Err()
	}

	expect(&errs, root, "cbc:UBLVersionID", UBLVersionID)
	if v := childText(root, "cbc:CustomizationID"); !strings.Contains(v, CustomizationID) {
		errs.Add("ubl.CustomizationID", fmt.Sprintf("se esperaba %s", CustomizationID))
	}
	expect(&errs, root, "cbc:ProfileExecutionID", ProfileExecutionID(rules.Phase))
	expect(&errs, root, "cbc:TaxCurrencyCode", pkgzatca.CurrencySAR)

	if childText(root, "cbc:ID") == "" {
		errs.Add("ubl.ID", "falta el número de factura")
	}
	if _, err := uuid.Parse(childText(root, "cbc:UUID")); err != nil {
		errs.Add("ubl.UUID", "UUID con formato inválido")
	}
	if _, err := time.Parse("2006-01-02", childText(root, "cbc:IssueDate")); err != nil {
		errs.Add("ubl.IssueDate", "se esperaba AAAA-MM-DD")
	}
	if _, err := time.Parse("15:04:05", childText(root, "cbc:IssueTime")); err != nil {
		errs.Add("ubl.IssueTime", "se esperaba HH:MM:SS")
	}
	if code := root.SelectElement("cbc:InvoiceTypeCode"); code == nil || code.Text() == "" || code.SelectAttrValue("name", "") == "" {
		errs.Add("ubl.InvoiceTypeCode", "falta el tipo de factura o su atributo name")
	}

	seller := root.FindElement("./cac:AccountingSupplierParty/cac:Party/cac:PartyTaxScheme/cbc:CompanyID")
	switch {
	case seller == nil || seller.Text() == "":
		errs.Add("ubl.AccountingSupplierParty", "falta el número de IVA del vendedor")
	case rules.TaxNumber != "" && seller.Text() != rules.TaxNumber:
		errs.Add("ubl.AccountingSupplierParty", "el número de IVA del vendedor no coincide con la configuración")
	}

	checkReferences(&errs, root)
	checkTotals(&errs, root)
	if rules.Phase == pkgzatca.Phase2 {
		checkSignature(&errs, root)
	}
	return errs.Err()
}

func checkReferences(errs *zatca.ValidationErrors, root *etree.Element) {
	icv := findReference(root, ReferenceICV)
	if icv == nil {
		errs.Add("ubl.ICV", "falta la referencia ICV")
	} else if n, err := strconv.ParseInt(childText(icv, "cbc:UUID"), 10, 64); err != nil || n < 1 {
		errs.Add("ubl.ICV", "el contador debe ser un entero positivo")
	}
	for _, id := range []string{ReferencePIH, ReferenceQR} {
		ref := findReference(root, id)
		if ref == nil {
			errs.Add("ubl."+id, "falta la referencia "+id)
			continue
		}
		obj := ref.FindElement("./cac:Attachment/cbc:EmbeddedDocumentBinaryObject")
		if obj == nil || obj.Text() == "" {
			errs.Add("ubl."+id, "referencia sin contenido")
			continue
		}
		if _, err := base64.StdEncoding.DecodeString(obj.Text()); err != nil {
			errs.Add("ubl."+id, "el contenido no es Base64")
		}
	}
}

// checkTotals líneas contra LegalMonetaryTotal y TaxTotal del documento.
func checkTotals(errs *zatca.ValidationErrors, root *etree.Element) {
	lines := root.SelectElements("cac:InvoiceLine")
	if len(lines) == 0 {
		errs.Add("ubl.InvoiceLine", "la factura debe tener al menos una línea")
		return
	}
	var net, tax decimal.Decimal
	for i, line := range lines {
		field := fmt.Sprintf("ubl.InvoiceLine[%d]", i)
		ext, ok := amount(line, "cbc:LineExtensionAmount")
		if !ok {
			errs.Add(field, "LineExtensionAmount inválido")
			continue
		}
		lineTax, ok := amount(line, "cac:TaxTotal/cbc:TaxAmount")
		if !ok {
			errs.Add(field, "TaxAmount inválido")
			continue
		}
		net = net.Add(ext)
		tax = tax.Add(lineTax)
	}

	legal := root.SelectElement("cac:LegalMonetaryTotal")
	if legal == nil {
		errs.Add("ubl.LegalMonetaryTotal", "falta LegalMonetaryTotal")
		return
	}
	exclusive, okEx := amount(legal, "cbc:TaxExclusiveAmount")
	inclusive, okIn := amount(legal, "cbc:TaxInclusiveAmount")
	if !okEx || !okIn {
		errs.Add("ubl.LegalMonetaryTotal", "importes inválidos")
		return
	}
	compare(errs, "ubl.TaxExclusiveAmount", exclusive, net)

	totals := root.SelectElements("cac:TaxTotal")
	if len(totals) == 0 {
		errs.Add("ubl.TaxTotal", "falta TaxTotal")
		return
	}
	docTax, ok := amount(totals[len(totals)-1], "cbc:TaxAmount")
	if !ok {
		errs.Add("ubl.TaxTotal", "TaxAmount inválido")
		return
	}
	compare(errs, "ubl.TaxTotal", docTax, tax)
	compare(errs, "ubl.TaxInclusiveAmount", inclusive, exclusive.Add(docTax))
}

func checkSignature(errs *zatca.ValidationErrors, root *etree.Element) {
	children := root.ChildElements()
	if len(children) == 0 || children[0].Space != "ext" || children[0].Tag != "UBLExtensions" {
		errs.Add("ubl.UBLExtensions", "ext:UBLExtensions debe ser el primer hijo")
		return
	}
	if sv := children[0].FindElement(".//ds:SignatureValue"); sv == nil || strings.TrimSpace(sv.Text()) == "" {
		errs.Add("ubl.UBLExtensions", "la factura no está firmada")
	}
	if root.SelectElement("cac:Signature") == nil {
		errs.Add("ubl.Signature", "falta cac:Signature")
	}
}

func expect(errs *zatca.ValidationErrors, root *etree.Element, tag, want string) {
	if got := childText(root, tag); got != want {
		errs.Add("ubl."+strings.TrimPrefix(tag, "cbc:"), fmt.Sprintf("se esperaba %q, llegó %q", want, got))
	}
}

func compare(errs *zatca.ValidationErrors, field string, declared, computed decimal.Decimal) {
	if declared.Sub(computed).Abs().GreaterThan(ublTolerance) {
		errs.Add(field, fmt.Sprintf("declarado %s, calculado %s", declared.StringFixed(2), computed.StringFixed(2)))
	}
}

func childText(el *etree.Element, tag string) string {
	if c := el.SelectElement(tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

func amount(el *etree.Element, path string) (decimal.Decimal, bool) {
	c := el.FindElement("./" + path)
	if c == nil {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.TrimSpace(c.Text()))
	return d, err == nil
}
