// Package storage archiva el XML final de cada factura en un bucket S3 compatible (MinIO).
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jhoicas/zatca-einvoicing/pkg/config"
)

// MinioArchive guarda y recupera XML por tenant/año/mes/uuid.xml.
type MinioArchive struct {
	client *minio.Client
	bucket string
}

// NewMinioArchive crea el cliente con credenciales estáticas.
func NewMinioArchive(cfg config.StorageConfig) (*MinioArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: cliente minio: %w", err)
	}
	return &MinioArchive{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket crea el bucket si no existe.
func (a *MinioArchive) EnsureBucket(ctx context.Context) error {
	found, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("storage: consultar bucket %s: %w", a.bucket, err)
	}
	if !found {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("storage: crear bucket %s: %w", a.bucket, err)
		}
	}
	return nil
}

// ObjectKey ruta del objeto: {company}/{yyyy}/{mm}/{uuid}.xml. issued es "2006-01-02...".
func ObjectKey(companyID, uuid, issued string) string {
	year, month := "0000", "00"
	if len(issued) >= 7 {
		year, month = issued[:4], issued[5:7]
	}
	return path.Join(companyID, year, month, uuid+".xml")
}

// PutXML sube el XML bajo key.
func (a *MinioArchive) PutXML(ctx context.Context, key string, xml []byte) error {
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(xml), int64(len(xml)), minio.PutObjectOptions{
		ContentType: "application/xml",
	})
	if err != nil {
		return fmt.Errorf("storage: subir %s: %w", key, err)
	}
	return nil
}

// GetXML descarga el XML archivado.
func (a *MinioArchive) GetXML(ctx context.Context, key string) ([]byte, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: obtener %s: %w", key, err)
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("storage: leer %s: %w", key, err)
	}
	return b, nil
}
