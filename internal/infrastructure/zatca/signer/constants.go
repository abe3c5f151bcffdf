// Constantes para la firma XAdES de facturas ZATCA (ECDSA secp256r1/secp256k1 con SHA-256).

package signer

// Namespaces de firma UBL, XMLDSig y XAdES.
const (
	NamespaceDS    = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceXAdES = "http://uri.etsi.org/01903/v1.3.2#"
	NamespaceSig   = "urn:oasis:names:specification:ubl:schema:xsd:CommonSignatureComponents-2"
	NamespaceSac   = "urn:oasis:names:specification:ubl:schema:xsd:SignatureAggregateComponents-2"
	NamespaceSbc   = "urn:oasis:names:specification:ubl:schema:xsd:SignatureBasicComponents-2"
	NamespaceCbc   = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
)

// Algoritmos. La canonización es Exclusive XML Canonicalization 1.0 (ucarion/c14n);
// SignedInfo declara el mismo algoritmo que se calculó.
const (
	AlgExcC14N      = "http://www.w3.org/2001/10/xml-exc-c14n#"
	AlgECDSASHA256  = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256"
	AlgSHA256       = "http://www.w3.org/2001/04/xmlenc#sha256"
	AlgXPathFilter  = "http://www.w3.org/TR/1999/REC-xpath-19991116"
	TypeSignedProps = "http://www.w3.org/2000/09/xmldsig#SignatureProperties"
)

// Exclusiones del documento firmado (coinciden con las del hash de la cadena).
var xpathExclusions = []string{
	"not(//ancestor-or-self::ext:UBLExtensions)",
	"not(//ancestor-or-self::cac:Signature)",
	"not(//ancestor-or-self::cac:AdditionalDocumentReference[cbc:ID='QR'])",
}

// Identificadores internos de la firma.
const (
	SignatureElementID     = "signature"
	SignedPropertiesID     = "xadesSignedProperties"
	InvoiceReferenceID     = "invoiceSignedData"
	SignatureInformationID = "urn:oasis:names:specification:ubl:signature:1"
	ReferencedSignatureID  = "urn:oasis:names:specification:ubl:signature:Invoice"
	SigningTimeLayout      = "2006-01-02T15:04:05"
)
