package extraction

import (
	"context"
	"fmt"
	"io"
	"time"

	gcsstorage "cloud.google.com/go/storage"
)

// uploadURLTTL bounds how long a signed upload URL remains valid.
const uploadURLTTL = 15 * time.Minute

// ObjectStore is the upload/download/delete collaborator behind the
// object-store-fronted upload path (§6.2): the server issues a signed URL,
// the client PUTs the blob directly to the bucket, and the pipeline reads
// it back by key once notified.
type ObjectStore struct {
	bucket *gcsstorage.BucketHandle
}

// NewObjectStore wraps an already-opened bucket handle.
func NewObjectStore(bucket *gcsstorage.BucketHandle) *ObjectStore {
	return &ObjectStore{bucket: bucket}
}

// SignedUploadURL issues a time-boxed PUT URL for key.
func (o *ObjectStore) SignedUploadURL(key, contentType string) (string, error) {
	url, err := o.bucket.SignedURL(key, &gcsstorage.SignedURLOptions{
		Method:      "PUT",
		Expires:     time.Now().Add(uploadURLTTL),
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("sign upload url: %w", err)
	}
	return url, nil
}

// Download reads the full object back into memory for the pipeline to
// fingerprint, triage, and extract.
func (o *ObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	reader, err := o.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, newTransportFailure("read uploaded object", err, true)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, newTransportFailure("read uploaded object body", err, true)
	}
	return data, nil
}

// Delete removes the object unconditionally once the pipeline has consumed
// it; upload-bucket objects are scratch space, never a system of record, so
// a delete failure is logged by the caller but never fails the extraction.
func (o *ObjectStore) Delete(ctx context.Context, key string) error {
	return o.bucket.Object(key).Delete(ctx)
}
