package zatca

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/xml"
	"fmt"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"
)

// HashChainer calcula el hash de factura y embebe el QR en el XML.
type HashChainer struct{}

// NewHashChainer crea el servicio.
func NewHashChainer() *HashChainer {
	return &HashChainer{}
}

// Hash devuelve Base64(SHA-256(C14N(xml))) sin ext:UBLExtensions, cac:Signature ni la referencia QR.
// Es determinista: el mismo XML produce siempre el mismo hash, firmado o no.
func (h *HashChainer) Hash(xmlBytes []byte) (string, error) {
	canonical, err := CanonicalForHash(xmlBytes)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// CanonicalForHash aplica las exclusiones del hash y canoniza el resultado.
func CanonicalForHash(xmlBytes []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("zatca: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("zatca: documento sin raíz")
	}
	root = root.Copy()
	if ext := root.SelectElement("ext:UBLExtensions"); ext != nil {
		root.RemoveChild(ext)
	}
	if sig := root.SelectElement("cac:Signature"); sig != nil {
		root.RemoveChild(sig)
	}
	if qr := findReference(root, ReferenceQR); qr != nil {
		root.RemoveChild(qr)
	}

	out := etree.NewDocument()
	out.SetRoot(root)
	var buf bytes.Buffer
	if _, err := out.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("zatca: serializar XML: %w", err)
	}
	return canonicalizeXML(buf.Bytes())
}

// EmbedQR agrega (o reemplaza) la referencia QR justo después de la referencia PIH.
func (h *HashChainer) EmbedQR(xmlBytes []byte, qr string) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("zatca: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("zatca: documento sin raíz")
	}
	if existing := findReference(root, ReferenceQR); existing != nil {
		if obj := existing.FindElement("cac:Attachment/cbc:EmbeddedDocumentBinaryObject"); obj != nil {
			obj.SetText(qr)
			return writeDoc(doc)
		}
		root.RemoveChild(existing)
	}
	pih := findReference(root, ReferencePIH)
	if pih == nil {
		return nil, fmt.Errorf("zatca: el XML no contiene la referencia PIH")
	}

	ref := etree.NewElement("cac:AdditionalDocumentReference")
	ref.CreateElement("cbc:ID").SetText(ReferenceQR)
	obj := ref.CreateElement("cac:Attachment").CreateElement("cbc:EmbeddedDocumentBinaryObject")
	obj.CreateAttr("mimeCode", "text/plain")
	obj.SetText(qr)
	root.InsertChildAt(pih.Index()+1, ref)
	return writeDoc(doc)
}

// ReadReference devuelve el valor de una referencia adicional (ICV, PIH o QR) o "" si no existe.
func ReadReference(xmlBytes []byte, id string) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return "", fmt.Errorf("zatca: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return "", fmt.Errorf("zatca: documento sin raíz")
	}
	ref := findReference(root, id)
	if ref == nil {
		return "", nil
	}
	if id == ReferenceICV {
		if u := ref.SelectElement("cbc:UUID"); u != nil {
			return u.Text(), nil
		}
		return "", nil
	}
	if obj := ref.FindElement("cac:Attachment/cbc:EmbeddedDocumentBinaryObject"); obj != nil {
		return obj.Text(), nil
	}
	return "", nil
}

func findReference(root *etree.Element, id string) *etree.Element {
	for _, ref := range root.SelectElements("cac:AdditionalDocumentReference") {
		if el := ref.SelectElement("cbc:ID"); el != nil && el.Text() == id {
			return ref
		}
	}
	return nil
}

func writeDoc(doc *etree.Document) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("zatca: serializar XML: %w", err)
	}
	return buf.Bytes(), nil
}

func canonicalizeXML(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	out, err := c14n.Canonicalize(dec)
	if err != nil {
		return nil, fmt.Errorf("zatca: canonizar XML: %w", err)
	}
	return out, nil
}
