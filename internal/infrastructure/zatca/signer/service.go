// Servicio de firma XAdES para facturas ZATCA phase2.
// Inyecta <sig:UBLDocumentSignatures> en el primer <ext:ExtensionContent> del XML.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
)

// Result artefactos de la firma que alimentan el QR y el registro.
type Result struct {
	XML                  []byte
	SignatureValue       string // Base64 (tag 7)
	PublicKey            []byte // DER (tag 8)
	CertificateSignature []byte // firma de la autoridad sobre el certificado (tag 9)
}

// DigitalSignatureService implementa la firma XAdES con ECDSA-SHA256.
type DigitalSignatureService struct {
	now func() time.Time
}

// NewDigitalSignatureService crea el servicio.
func NewDigitalSignatureService() *DigitalSignatureService {
	return &DigitalSignatureService{now: time.Now}
}

// WithClock fija el reloj del SigningTime (tests).
func (s *DigitalSignatureService) WithClock(now func() time.Time) *DigitalSignatureService {
	s.now = now
	return s
}

// Sign firma el XML cuyo hash de factura es invoiceHash (Base64 SHA-256) e inyecta la firma.
func (s *DigitalSignatureService) Sign(xmlBytes []byte, invoiceHash string, km *KeyMaterial) (*Result, error) {
	if len(xmlBytes) == 0 {
		return nil, &zatca.SignatureError{Msg: "XML vacío"}
	}
	if km == nil || km.Signer == nil {
		return nil, &zatca.SignatureError{Msg: "no hay llave privada cargada"}
	}
	if km.Certificate == nil {
		return nil, &zatca.SignatureError{Msg: "no hay certificado emitido para la llave"}
	}
	cert := km.Certificate

	// 1) SignedProperties (SigningTime, SigningCertificate) y su digest
	signingTime := s.now().UTC().Format(SigningTimeLayout)
	certDigest, issuerName, serial := CertDigestAndIssuerSerial(cert)
	signedProps := buildSignedProperties(signingTime, certDigest, issuerName, serial)
	canonicalProps, err := canonicalizeXML([]byte(signedProps))
	if err != nil {
		return nil, &zatca.SignatureError{Msg: "canonizar SignedProperties", Err: err}
	}
	propsHash := sha256.Sum256(canonicalProps)
	propsDigest := base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(propsHash[:])))

	// 2) SignedInfo con las referencias al documento y a las propiedades
	signedInfo := buildSignedInfo(invoiceHash, propsDigest)
	canonicalInfo, err := canonicalizeXML([]byte(signedInfo))
	if err != nil {
		return nil, &zatca.SignatureError{Msg: "canonizar SignedInfo", Err: err}
	}
	infoHash := sha256.Sum256(canonicalInfo)
	sig, err := km.Signer.Sign(rand.Reader, infoHash[:], crypto.SHA256)
	if err != nil {
		return nil, &zatca.SignatureError{Msg: "firmar SignedInfo", Err: err}
	}
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	pub, err := km.PublicKeyDER()
	if err != nil {
		return nil, err
	}

	// 3) Documento de firmas UBL completo
	certB64 := base64.StdEncoding.EncodeToString(cert.Raw)
	signatureXML := buildUBLSignatures(signedInfo, sigB64, certB64, signedProps)

	// 4) Inyectar en el primer ext:ExtensionContent
	out, err := injectSignature(xmlBytes, signatureXML)
	if err != nil {
		return nil, err
	}
	return &Result{XML: out, SignatureValue: sigB64, PublicKey: pub, CertificateSignature: cert.Signature}, nil
}

func canonicalizeXML(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func buildSignedInfo(invoiceHash, propsDigest string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:SignedInfo xmlns:ds="` + NamespaceDS + `">`)
	sb.WriteString(`<ds:CanonicalizationMethod Algorithm="` + AlgExcC14N + `"/>`)
	sb.WriteString(`<ds:SignatureMethod Algorithm="` + AlgECDSASHA256 + `"/>`)
	sb.WriteString(`<ds:Reference Id="` + InvoiceReferenceID + `" URI="">`)
	sb.WriteString(`<ds:Transforms>`)
	for _, xp := range xpathExclusions {
		sb.WriteString(`<ds:Transform Algorithm="` + AlgXPathFilter + `"><ds:XPath>` + xp + `</ds:XPath></ds:Transform>`)
	}
	sb.WriteString(`<ds:Transform Algorithm="` + AlgExcC14N + `"/>`)
	sb.WriteString(`</ds:Transforms>`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + invoiceHash + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	sb.WriteString(`<ds:Reference Type="` + TypeSignedProps + `" URI="#` + SignedPropertiesID + `">`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + propsDigest + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	sb.WriteString(`</ds:SignedInfo>`)
	return sb.String()
}

func buildSignedProperties(signingTime, certDigest, issuerName, serial string) string {
	var sb strings.Builder
	sb.WriteString(`<xades:SignedProperties xmlns:xades="` + NamespaceXAdES + `" xmlns:ds="` + NamespaceDS + `" Id="` + SignedPropertiesID + `">`)
	sb.WriteString(`<xades:SignedSignatureProperties>`)
	sb.WriteString(`<xades:SigningTime>` + signingTime + `</xades:SigningTime>`)
	sb.WriteString(`<xades:SigningCertificate><xades:Cert><xades:CertDigest>`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + certDigest + `</ds:DigestValue></xades:CertDigest>`)
	sb.WriteString(`<xades:IssuerSerial><ds:X509IssuerName>` + escapeXML(issuerName) + `</ds:X509IssuerName>`)
	sb.WriteString(`<ds:X509SerialNumber>` + serial + `</ds:X509SerialNumber></xades:IssuerSerial>`)
	sb.WriteString(`</xades:Cert></xades:SigningCertificate>`)
	sb.WriteString(`</xades:SignedSignatureProperties>`)
	sb.WriteString(`</xades:SignedProperties>`)
	return sb.String()
}

func buildUBLSignatures(signedInfo, sigB64, certB64, signedProps string) string {
	var sb strings.Builder
	sb.WriteString(`<sig:UBLDocumentSignatures xmlns:sig="` + NamespaceSig + `" xmlns:sac="` + NamespaceSac + `" xmlns:sbc="` + NamespaceSbc + `" xmlns:cbc="` + NamespaceCbc + `">`)
	sb.WriteString(`<sac:SignatureInformation>`)
	sb.WriteString(`<cbc:ID>` + SignatureInformationID + `</cbc:ID>`)
	sb.WriteString(`<sbc:ReferencedSignatureID>` + ReferencedSignatureID + `</sbc:ReferencedSignatureID>`)
	sb.WriteString(`<ds:Signature xmlns:ds="` + NamespaceDS + `" Id="` + SignatureElementID + `">`)
	sb.WriteString(signedInfo)
	sb.WriteString(`<ds:SignatureValue>` + sigB64 + `</ds:SignatureValue>`)
	sb.WriteString(`<ds:KeyInfo><ds:X509Data><ds:X509Certificate>` + certB64 + `</ds:X509Certificate></ds:X509Data></ds:KeyInfo>`)
	sb.WriteString(`<ds:Object><xades:QualifyingProperties xmlns:xades="` + NamespaceXAdES + `" Target="` + SignatureElementID + `">`)
	sb.WriteString(signedProps)
	sb.WriteString(`</xades:QualifyingProperties></ds:Object>`)
	sb.WriteString(`</ds:Signature>`)
	sb.WriteString(`</sac:SignatureInformation>`)
	sb.WriteString(`</sig:UBLDocumentSignatures>`)
	return sb.String()
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

func injectSignature(xmlBytes []byte, signatureXML string) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, &zatca.SignatureError{Msg: "parsear XML", Err: err}
	}
	root := doc.Root()
	if root == nil {
		return nil, &zatca.SignatureError{Msg: "documento sin raíz"}
	}
	content := root.FindElement("ext:UBLExtensions/ext:UBLExtension/ext:ExtensionContent")
	if content == nil {
		return nil, &zatca.SignatureError{Msg: "no se encontró ext:ExtensionContent para inyectar la firma"}
	}
	for _, child := range content.ChildElements() {
		content.RemoveChild(child)
	}
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, &zatca.SignatureError{Msg: "parsear firma", Err: err}
	}
	if sigRoot := sigDoc.Root(); sigRoot != nil {
		content.AddChild(sigRoot)
	}
	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, &zatca.SignatureError{Msg: "serializar XML firmado", Err: err}
	}
	return out.Bytes(), nil
}

// SignatureFromXML extrae ds:SignatureValue de un XML firmado.
func SignatureFromXML(xmlBytes []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return "", fmt.Errorf("signer: parsear XML: %w", err)
	}
	el := doc.FindElement("//ds:SignatureValue")
	if el == nil {
		return "", nil
	}
	return el.Text(), nil
}
