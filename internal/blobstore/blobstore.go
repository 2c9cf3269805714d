// Package blobstore is the binary storage capability: media payloads are
// uploaded for a durable public URL. Callers that cannot reach storage fall
// back to inlining the payload as a data URI so the message still delivers.
package blobstore

import (
	"bytes"
	"context"
	"encoding/base64"

	storage_go "github.com/supabase-community/storage-go"
)

// Uploader stores a blob and returns a public URL for it.
type Uploader interface {
	Upload(ctx context.Context, path string, blob []byte, contentType string) (string, error)
}

// SupabaseUploader stores blobs in a Supabase Storage bucket.
type SupabaseUploader struct {
	Client *storage_go.Client
	Bucket string
}

func NewSupabaseUploader(client *storage_go.Client, bucket string) *SupabaseUploader {
	return &SupabaseUploader{Client: client, Bucket: bucket}
}

func (u *SupabaseUploader) Upload(_ context.Context, path string, blob []byte, contentType string) (string, error) {
	_, err := u.Client.UploadFile(u.Bucket, path, bytes.NewReader(blob), storage_go.FileOptions{
		ContentType: &contentType,
	})
	if err != nil {
		return "", err
	}
	return u.Client.GetPublicUrl(u.Bucket, path).SignedURL, nil
}

// DataURI inlines a blob as a self-contained data URI.
func DataURI(blob []byte, contentType string) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(blob)
}
