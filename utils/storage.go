package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// MaxObjectBytes caps what the backend reads back from the bucket
// (thumbnails, livro PDFs).
const MaxObjectBytes int64 = 20 * 1024 * 1024

var ErrObjectTooLarge = errors.New("object exceeds size limit")

// withObject opens a short-lived client on GCS_BUCKET and hands fn the object.
// Credentials come from ADC unless GCS_CREDENTIALS_JSON is set for local runs.
func withObject(ctx context.Context, name string, fn func(*storage.ObjectHandle) error) error {
	bucket, err := gcsBucket()
	if err != nil {
		return err
	}
	var opts []option.ClientOption
	if cred := strings.TrimSpace(os.Getenv("GCS_CREDENTIALS_JSON")); cred != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cred)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return fmt.Errorf("storage client: %w", err)
	}
	defer client.Close()
	return fn(client.Bucket(bucket).Object(name))
}

func gcsBucket() (string, error) {
	bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucket == "" {
		return "", errors.New("GCS_BUCKET is required")
	}
	return bucket, nil
}

// UploadBytesToGCS writes generated files (thumbnails) next to the originals.
func UploadBytesToGCS(ctx context.Context, objectName string, data []byte, contentType string) error {
	return withObject(ctx, objectName, func(obj *storage.ObjectHandle) error {
		w := obj.NewWriter(ctx)
		w.ContentType = contentType
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return fmt.Errorf("write %s: %w", objectName, err)
		}
		return w.Close()
	})
}

// ReadObjectFromGCS returns the object body and its content type. Objects
// above MaxObjectBytes fail with ErrObjectTooLarge.
func ReadObjectFromGCS(ctx context.Context, objectName string) (data []byte, contentType string, err error) {
	err = withObject(ctx, objectName, func(obj *storage.ObjectHandle) error {
		r, err := obj.NewReader(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("object %s: %w", objectName, ErrorRecordNotFound)
		}
		if err != nil {
			return err
		}
		defer r.Close()
		if r.Attrs.Size > MaxObjectBytes {
			return ErrObjectTooLarge
		}
		if data, err = io.ReadAll(io.LimitReader(r, MaxObjectBytes+1)); err != nil {
			return err
		}
		if int64(len(data)) > MaxObjectBytes {
			return ErrObjectTooLarge
		}
		contentType = r.Attrs.ContentType
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

// DeleteObjectFromGCS treats a missing object as already deleted.
func DeleteObjectFromGCS(ctx context.Context, objectName string) error {
	return withObject(ctx, objectName, func(obj *storage.ObjectHandle) error {
		if err := obj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return err
		}
		return nil
	})
}

func ObjectExistsInGCS(ctx context.Context, objectName string) (exists bool, err error) {
	err = withObject(ctx, objectName, func(obj *storage.ObjectHandle) error {
		_, err := obj.Attrs(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		exists = err == nil
		return err
	})
	return exists, err
}

// BuildObjectAccessURL turns an object key into the URL stored on client documents.
// STORAGE_ACCESS_BASE_URL may carry a {objectKey} placeholder.
func BuildObjectAccessURL(objectKey string) string {
	base := strings.TrimSpace(os.Getenv("STORAGE_ACCESS_BASE_URL"))
	if base != "" {
		if strings.Contains(base, "{objectKey}") {
			escaped := objectKey
			if strings.Contains(base, "?") {
				escaped = url.QueryEscape(objectKey)
			}
			return strings.ReplaceAll(base, "{objectKey}", escaped)
		}
		if strings.Contains(base, "?") {
			return base + url.QueryEscape(objectKey)
		}
		return strings.TrimRight(base, "/") + "/" + objectKey
	}
	if bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET")); bucket != "" {
		return "https://storage.googleapis.com/" + bucket + "/" + objectKey
	}
	return objectKey
}

// ExtractObjectKeyFromURL is the inverse of BuildObjectAccessURL.
// Returns "" for anything that does not point into our bucket.
func ExtractObjectKeyFromURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" || strings.Contains(rawURL, "..") {
		return ""
	}

	// raw object keys ("clients/12/abc.pdf")
	if !strings.Contains(rawURL, "://") && !strings.HasPrefix(rawURL, "/") && strings.Contains(rawURL, "/") {
		return rawURL
	}

	if strings.HasPrefix(rawURL, "gs://") {
		parts := strings.SplitN(strings.TrimPrefix(rawURL, "gs://"), "/", 2)
		if len(parts) == 2 {
			return parts[1]
		}
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if key := parsed.Query().Get("key"); key != "" {
		return key
	}
	host := strings.ToLower(parsed.Host)
	p := strings.TrimPrefix(parsed.Path, "/")
	switch {
	case host == "storage.googleapis.com" || host == "storage.cloud.google.com":
		parts := strings.SplitN(p, "/", 2)
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	case strings.HasSuffix(host, ".storage.googleapis.com"):
		return p
	}

	base := strings.TrimSpace(os.Getenv("STORAGE_ACCESS_BASE_URL"))
	if base != "" && !strings.Contains(base, "{objectKey}") && strings.HasPrefix(rawURL, base) {
		trimmed := strings.TrimPrefix(strings.TrimPrefix(rawURL, base), "/")
		if decoded, err := url.QueryUnescape(trimmed); err == nil {
			return decoded
		}
		return trimmed
	}
	return ""
}
