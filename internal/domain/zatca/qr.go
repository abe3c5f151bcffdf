package zatca

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

// Tags TLV del QR.
const (
	TagSellerName   byte = 1
	TagVATNumber    byte = 2
	TagTimestamp    byte = 3
	TagInvoiceTotal byte = 4
	TagVATTotal     byte = 5
	TagInvoiceHash  byte = 6
	TagSignature    byte = 7
	TagPublicKey    byte = 8
	TagStamp        byte = 9
)

// MaxTLVValue longitud máxima de un valor (el largo se codifica en un byte).
const MaxTLVValue = 255

// QRTimestampLayout formato ISO-8601 del tag 3 (UTC).
const QRTimestampLayout = "2006-01-02T15:04:05Z"

// TLVField un campo tag-largo-valor.
type TLVField struct {
	Tag   byte
	Value []byte
}

// QRData datos del QR. Los campos de firma solo se usan en phase2.
type QRData struct {
	SellerName   string
	VATNumber    string
	Timestamp    time.Time
	InvoiceTotal decimal.Decimal
	VATTotal     decimal.Decimal
	InvoiceHash  string // Base64
	Signature    string // Base64
	PublicKey    []byte // DER SubjectPublicKeyInfo
	Stamp        []byte // firma del certificado emitida por la autoridad
}

// Fields arma la lista ordenada de campos para la fase. Los textos se normalizan a NFC.
func (d QRData) Fields(phase string) []TLVField {
	fields := []TLVField{
		{Tag: TagSellerName, Value: []byte(norm.NFC.String(d.SellerName))},
		{Tag: TagVATNumber, Value: []byte(d.VATNumber)},
		{Tag: TagTimestamp, Value: []byte(d.Timestamp.UTC().Format(QRTimestampLayout))},
		{Tag: TagInvoiceTotal, Value: []byte(d.InvoiceTotal.StringFixed(2))},
		{Tag: TagVATTotal, Value: []byte(d.VATTotal.StringFixed(2))},
	}
	if phase != pkgzatca.Phase2 {
		return fields
	}
	fields = append(fields,
		TLVField{Tag: TagInvoiceHash, Value: []byte(d.InvoiceHash)},
		TLVField{Tag: TagSignature, Value: []byte(d.Signature)},
		TLVField{Tag: TagPublicKey, Value: d.PublicKey},
	)
	if len(d.Stamp) > 0 {
		fields = append(fields, TLVField{Tag: TagStamp, Value: d.Stamp})
	}
	return fields
}

// EncodeTLV concatena tag(1 byte) + largo(1 byte) + valor por cada campo.
func EncodeTLV(fields []TLVField) ([]byte, error) {
	size := 0
	for _, f := range fields {
		if f.Tag == 0 {
			return nil, &EncodingError{Tag: f.Tag, Msg: "el tag 0 no es válido"}
		}
		if len(f.Value) > MaxTLVValue {
			return nil, &EncodingError{Tag: f.Tag, Length: len(f.Value)}
		}
		size += 2 + len(f.Value)
	}
	buf := make([]byte, 0, size)
	for _, f := range fields {
		buf = append(buf, f.Tag, byte(len(f.Value)))
		buf = append(buf, f.Value...)
	}
	return buf, nil
}

// DecodeTLV es la inversa de EncodeTLV; rechaza buffers truncados.
func DecodeTLV(b []byte) ([]TLVField, error) {
	var fields []TLVField
	for i := 0; i < len(b); {
		if i+2 > len(b) {
			return nil, &EncodingError{Tag: b[i], Msg: "cabecera TLV truncada"}
		}
		tag, n := b[i], int(b[i+1])
		i += 2
		if i+n > len(b) {
			return nil, &EncodingError{Tag: tag, Length: n, Msg: fmt.Sprintf("valor truncado: se esperaban %d bytes, quedan %d", n, len(b)-i)}
		}
		value := make([]byte, n)
		copy(value, b[i:i+n])
		fields = append(fields, TLVField{Tag: tag, Value: value})
		i += n
	}
	return fields, nil
}

// EncodeQR devuelve el Base64 del TLV de los campos de la fase.
func EncodeQR(d QRData, phase string) (string, error) {
	tlv, err := EncodeTLV(d.Fields(phase))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(tlv), nil
}

// DecodeQR decodifica el Base64 y el TLV.
func DecodeQR(qr string) ([]TLVField, error) {
	raw, err := base64.StdEncoding.DecodeString(qr)
	if err != nil {
		return nil, &EncodingError{Msg: "base64 inválido: " + err.Error()}
	}
	return DecodeTLV(raw)
}

// ValidateQR verifica que el QR decodifique y tenga los tags obligatorios de la fase (1-5, y 6-8 en phase2).
func ValidateQR(qr, phase string) error {
	fields, err := DecodeQR(qr)
	if err != nil {
		return err
	}
	present := make(map[byte]bool, len(fields))
	for _, f := range fields {
		present[f.Tag] = true
	}
	last := TagVATTotal
	if phase == pkgzatca.Phase2 {
		last = TagPublicKey
	}
	for tag := TagSellerName; tag <= last; tag++ {
		if !present[tag] {
			return &EncodingError{Tag: tag, Msg: "tag obligatorio ausente"}
		}
	}
	return nil
}
