package zatca_test

import (
	"bytes"
	"testing"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domzatca "github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/zatca"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

func TestHash_Determinista(t *testing.T) {
	out, err := zatca.NewUBLBuilder().Build(testDocument(pkgzatca.Phase2))
	require.NoError(t, err)

	h := zatca.NewHashChainer()
	a, err := h.Hash(out)
	require.NoError(t, err)
	b, err := h.Hash(out)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, domzatca.IsValidHashFormat(a))
}

// El hash ignora la firma y el QR: firmar o embeber el QR no rompe la cadena.
func TestHash_IgnoraFirmaYQR(t *testing.T) {
	out, err := zatca.NewUBLBuilder().Build(testDocument(pkgzatca.Phase2))
	require.NoError(t, err)
	h := zatca.NewHashChainer()
	before, err := h.Hash(out)
	require.NoError(t, err)

	withQR, err := h.EmbedQR(out, "AQxCb2JzIFJlY29yZHM=")
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(withQR))
	content := doc.Root().FindElement("ext:UBLExtensions/ext:UBLExtension/ext:ExtensionContent")
	require.NotNil(t, content)
	content.CreateElement("sig:UBLDocumentSignatures").SetText("firma")
	var buf bytes.Buffer
	_, err = doc.WriteTo(&buf)
	require.NoError(t, err)

	after, err := h.Hash(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestHash_CambiaConElContenido(t *testing.T) {
	h := zatca.NewHashChainer()
	doc := testDocument(pkgzatca.Phase1)
	a, err := zatca.NewUBLBuilder().Build(doc)
	require.NoError(t, err)

	doc.Payable = decimal.NewFromInt(116)
	b, err := zatca.NewUBLBuilder().Build(doc)
	require.NoError(t, err)

	ha, err := h.Hash(a)
	require.NoError(t, err)
	hb, err := h.Hash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestEmbedQR_PosicionYReemplazo(t *testing.T) {
	out, err := zatca.NewUBLBuilder().Build(testDocument(pkgzatca.Phase1))
	require.NoError(t, err)
	h := zatca.NewHashChainer()

	withQR, err := h.EmbedQR(out, "primero")
	require.NoError(t, err)
	qr, err := zatca.ReadReference(withQR, zatca.ReferenceQR)
	require.NoError(t, err)
	assert.Equal(t, "primero", qr)

	root := parse(t, withQR)
	refs := root.SelectElements("cac:AdditionalDocumentReference")
	require.Len(t, refs, 3)
	assert.Equal(t, zatca.ReferenceQR, refs[2].SelectElement("cbc:ID").Text(), "el QR va después de PIH")

	replaced, err := h.EmbedQR(withQR, "segundo")
	require.NoError(t, err)
	root = parse(t, replaced)
	assert.Len(t, root.SelectElements("cac:AdditionalDocumentReference"), 3)
	qr, err = zatca.ReadReference(replaced, zatca.ReferenceQR)
	require.NoError(t, err)
	assert.Equal(t, "segundo", qr)
}

func TestEmbedQR_SinPIH(t *testing.T) {
	_, err := zatca.NewHashChainer().EmbedQR([]byte(`<Invoice/>`), "qr")
	assert.Error(t, err)
}
