// Generación del CSR para el onboarding del CSID.

package signer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

var (
	oidCertificateTemplate = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 20, 2}
	oidSubjectAltName      = asn1.ObjectIdentifier{2, 5, 29, 17}
	oidSerialNumberSN      = asn1.ObjectIdentifier{2, 5, 4, 4}
	oidUID                 = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}
	oidTitle               = asn1.ObjectIdentifier{2, 5, 4, 12}
	oidRegisteredAddress   = asn1.ObjectIdentifier{2, 5, 4, 26}
	oidBusinessCategory    = asn1.ObjectIdentifier{2, 5, 4, 15}
)

// CSRInfo datos del solicitante que van en el CSR.
type CSRInfo struct {
	CommonName       string
	OrganizationName string
	OrganizationUnit string // sucursal
	VATNumber        string
	DeviceSerial     string // 1-Solución|2-Versión|3-Dispositivo
	InvoiceTypes     string // "1100": estándar y simplificada
	Address          string
	BusinessCategory string
	Environment      string
}

// GenerateCSR crea el CSR PEM firmado con la llave del tenant.
func GenerateCSR(km *KeyMaterial, info CSRInfo) ([]byte, error) {
	if km == nil || km.Signer == nil {
		return nil, &zatca.SignatureError{Msg: "no hay llave privada para el CSR"}
	}
	template := "ZATCA-Code-Signing"
	switch info.Environment {
	case pkgzatca.EnvSandbox:
		template = "TSTZATCA-Code-Signing"
	case pkgzatca.EnvSimulation:
		template = "PREZATCA-Code-Signing"
	}
	templateExt, err := asn1.MarshalWithParams(template, "printable")
	if err != nil {
		return nil, fmt.Errorf("signer: extensión de plantilla: %w", err)
	}

	invoiceTypes := info.InvoiceTypes
	if invoiceTypes == "" {
		invoiceTypes = "1100"
	}
	dirName := pkix.Name{ExtraNames: []pkix.AttributeTypeAndValue{
		{Type: oidSerialNumberSN, Value: info.DeviceSerial},
		{Type: oidUID, Value: info.VATNumber},
		{Type: oidTitle, Value: invoiceTypes},
		{Type: oidRegisteredAddress, Value: info.Address},
		{Type: oidBusinessCategory, Value: info.BusinessCategory},
	}}
	rdn, err := asn1.Marshal(dirName.ToRDNSequence())
	if err != nil {
		return nil, fmt.Errorf("signer: directoryName: %w", err)
	}
	san, err := asn1.Marshal([]asn1.RawValue{{Class: asn1.ClassContextSpecific, Tag: 4, IsCompound: true, Bytes: rdn}})
	if err != nil {
		return nil, fmt.Errorf("signer: subjectAltName: %w", err)
	}

	tmpl := &x509.CertificateRequest{
		Subject: pkix.Name{
			Country:            []string{"SA"},
			Organization:       []string{info.OrganizationName},
			OrganizationalUnit: []string{info.OrganizationUnit},
			CommonName:         info.CommonName,
		},
		ExtraExtensions: []pkix.Extension{
			{Id: oidCertificateTemplate, Value: templateExt},
			{Id: oidSubjectAltName, Value: san},
		},
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, km.Signer)
	if err != nil {
		return nil, &zatca.SignatureError{Msg: "crear CSR", Err: err}
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}), nil
}

// GenerateKey crea una llave P-256 nueva y la devuelve junto con su PEM PKCS#8.
func GenerateKey() (*ecdsa.PrivateKey, []byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("signer: generar llave: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("signer: serializar llave: %w", err)
	}
	return key, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}
