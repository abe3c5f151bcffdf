// Carga de llave ECDSA y certificado desde .p12 (PKCS#12) o PEM.

package signer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
)

// KeyMaterial llave del tenant y, si ya fue emitido, su certificado.
type KeyMaterial struct {
	Certificate *x509.Certificate // nil antes del onboarding
	Signer      crypto.Signer
}

// PublicKeyDER SubjectPublicKeyInfo DER de la llave (tag 8 del QR).
func (k *KeyMaterial) PublicKeyDER() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(k.Signer.Public())
	if err != nil {
		return nil, &zatca.SignatureError{Msg: "serializar llave pública", Err: err}
	}
	return der, nil
}

// Load carga la llave desde .p12 o PEM según la extensión de certPath.
func Load(certPath, keyPath, password string) (*KeyMaterial, error) {
	if zatca.IsPKCS12Path(certPath) {
		return LoadFromP12(certPath, password)
	}
	return LoadFromPEM(certPath, keyPath)
}

// LoadFromP12 carga certificado y llave privada desde un archivo .p12/.pfx.
// El password puede ser vacío si el archivo no está protegido.
func LoadFromP12(path, password string) (*KeyMaterial, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &zatca.SignatureError{Msg: "leer p12", Err: err}
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, &zatca.SignatureError{Msg: "decodificar p12", Err: err}
	}
	return newKeyMaterial(priv, cert)
}

// LoadFromPEM carga certificado y llave desde archivos PEM. certPath vacío carga solo la llave
// (antes de la emisión del CSID); keyPath vacío busca la llave en el archivo del certificado.
func LoadFromPEM(certPath, keyPath string) (*KeyMaterial, error) {
	if keyPath == "" {
		keyPath = certPath
	}
	if keyPath == "" {
		return nil, &zatca.SignatureError{Msg: "no hay llave privada configurada"}
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, &zatca.SignatureError{Msg: "leer llave privada", Err: err}
	}
	priv, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	var cert *x509.Certificate
	if certPath != "" {
		certPEM, err := os.ReadFile(certPath)
		if err != nil {
			return nil, &zatca.SignatureError{Msg: "leer certificado", Err: err}
		}
		if cert, err = ParseCertificate(certPEM); err != nil {
			return nil, err
		}
	}
	return newKeyMaterial(priv, cert)
}

// ParsePrivateKeyPEM acepta PKCS#8 ("PRIVATE KEY") o SEC1 ("EC PRIVATE KEY").
func ParsePrivateKeyPEM(data []byte) (crypto.Signer, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, &zatca.SignatureError{Msg: "no se encontró una llave privada PEM"}
		}
		switch block.Type {
		case "PRIVATE KEY":
			k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, &zatca.SignatureError{Msg: "parsear llave PKCS#8", Err: err}
			}
			return asECDSA(k)
		case "EC PRIVATE KEY":
			k, err := x509.ParseECPrivateKey(block.Bytes)
			if err != nil {
				return nil, &zatca.SignatureError{Msg: "parsear llave EC", Err: err}
			}
			return k, nil
		}
	}
}

// ParseCertificate acepta PEM o el Base64 DER que devuelve la autoridad (binarySecurityToken).
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	if block, _ := pem.Decode(data); block != nil {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, &zatca.SignatureError{Msg: "parsear certificado", Err: err}
		}
		return cert, nil
	}
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, &zatca.SignatureError{Msg: "el certificado no es PEM ni Base64", Err: err}
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &zatca.SignatureError{Msg: "parsear certificado", Err: err}
	}
	return cert, nil
}

// CertDigestAndIssuerSerial devuelve el digest SHA-256 del certificado (Base64 del hex) y
// el serial en decimal para XAdES.
func CertDigestAndIssuerSerial(cert *x509.Certificate) (digestB64 string, issuerName string, serial string) {
	h := sha256.Sum256(cert.Raw)
	digestB64 = base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(h[:])))
	issuerName = cert.Issuer.String()
	serial = cert.SerialNumber.String()
	return digestB64, issuerName, serial
}

func newKeyMaterial(priv interface{}, cert *x509.Certificate) (*KeyMaterial, error) {
	s, err := asECDSA(priv)
	if err != nil {
		return nil, err
	}
	if cert != nil {
		pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
		if !ok || !pub.Equal(s.Public()) {
			return nil, &zatca.SignatureError{Msg: "el certificado no corresponde a la llave privada"}
		}
	}
	return &KeyMaterial{Certificate: cert, Signer: s}, nil
}

func asECDSA(k interface{}) (crypto.Signer, error) {
	switch key := k.(type) {
	case *ecdsa.PrivateKey:
		return key, nil
	case crypto.Signer:
		if _, ok := key.Public().(*ecdsa.PublicKey); ok {
			return key, nil
		}
	}
	return nil, &zatca.SignatureError{Msg: fmt.Sprintf("la llave debe ser ECDSA, se recibió %T", k)}
}
