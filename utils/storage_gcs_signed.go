package utils

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/compute/metadata"
	"cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iamcredentials/v1"
	"google.golang.org/api/option"
)

// SignedUpload is what the dashboard needs to PUT a client document straight
// into the bucket.
type SignedUpload struct {
	UploadURL string            `json:"uploadUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ObjectKey string            `json:"objectKey"`
	AccessURL string            `json:"accessUrl"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

const StorageProviderGCS = "gcs"

// GetStorageProvider reads STORAGE_PROVIDER; only "gcs" can sign URLs.
func GetStorageProvider() string {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("STORAGE_PROVIDER")))
	if provider == "" {
		return StorageProviderGCS
	}
	return provider
}

// urlSigner holds either a private key or a remote SignBlob function.
type urlSigner struct {
	accessID   string
	privateKey []byte
	signBytes  func([]byte) ([]byte, error)
}

func (s *urlSigner) apply(opts *storage.SignedURLOptions) {
	opts.GoogleAccessID = s.accessID
	if len(s.privateKey) > 0 {
		opts.PrivateKey = s.privateKey
		return
	}
	opts.SignBytes = s.signBytes
}

// SignUpload returns a V4 signed PUT URL for objectKey.
func SignUpload(ctx context.Context, objectKey, contentType string, expires time.Duration) (*SignedUpload, error) {
	url, expiresAt, err := signObjectURL(ctx, http.MethodPut, objectKey, contentType, expires)
	if err != nil {
		return nil, err
	}
	return &SignedUpload{
		UploadURL: url,
		Method:    http.MethodPut,
		Headers:   map[string]string{"Content-Type": contentType},
		ObjectKey: objectKey,
		AccessURL: BuildObjectAccessURL(objectKey),
		ExpiresAt: expiresAt,
	}, nil
}

// SignDownload returns a short-lived GET URL so private buckets can serve
// scanned documents without proxying the bytes.
func SignDownload(ctx context.Context, objectKey string, expires time.Duration) (string, error) {
	url, _, err := signObjectURL(ctx, http.MethodGet, objectKey, "", expires)
	return url, err
}

func signObjectURL(ctx context.Context, method, objectKey, contentType string, expires time.Duration) (string, time.Time, error) {
	if GetStorageProvider() != StorageProviderGCS {
		return "", time.Time{}, fmt.Errorf("storage provider %q cannot sign URLs", GetStorageProvider())
	}
	bucket, err := gcsBucket()
	if err != nil {
		return "", time.Time{}, err
	}
	signer, err := resolveSigner(ctx)
	if err != nil {
		return "", time.Time{}, err
	}

	opts := &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      method,
		Expires:     time.Now().Add(expires),
		ContentType: contentType,
	}
	signer.apply(opts)

	url, err := storage.SignedURL(bucket, objectKey, opts)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s %s: %w", method, objectKey, err)
	}
	return url, opts.Expires, nil
}

// resolveSigner prefers a key from the environment and falls back to the
// IAM credentials API with the runtime service account.
func resolveSigner(ctx context.Context) (*urlSigner, error) {
	if raw := strings.TrimSpace(os.Getenv("GCS_CREDENTIALS_JSON")); raw != "" {
		var key struct {
			ClientEmail string `json:"client_email"`
			PrivateKey  string `json:"private_key"`
		}
		if err := json.Unmarshal([]byte(raw), &key); err != nil {
			return nil, fmt.Errorf("invalid GCS_CREDENTIALS_JSON: %w", err)
		}
		if key.ClientEmail == "" || key.PrivateKey == "" {
			return nil, errors.New("GCS_CREDENTIALS_JSON missing client_email or private_key")
		}
		return &urlSigner{accessID: key.ClientEmail, privateKey: pemBytes(key.PrivateKey)}, nil
	}

	email := strings.TrimSpace(os.Getenv("GCS_SIGNER_EMAIL"))
	if pk := strings.TrimSpace(os.Getenv("GCS_SIGNER_PRIVATE_KEY")); email != "" && pk != "" {
		return &urlSigner{accessID: email, privateKey: pemBytes(pk)}, nil
	}
	if email == "" && metadata.OnGCE() {
		var err error
		if email, err = metadata.Email("default"); err != nil {
			return nil, fmt.Errorf("default service account email: %w", err)
		}
	}
	if email == "" {
		return nil, errors.New("GCS_SIGNER_EMAIL is required when no private key is provided")
	}
	return iamSigner(ctx, email)
}

// pemBytes undoes the "\n" escaping env files apply to PEM keys.
func pemBytes(key string) []byte {
	return []byte(strings.ReplaceAll(key, "\\n", "\n"))
}

func iamSigner(ctx context.Context, email string) (*urlSigner, error) {
	creds, err := google.FindDefaultCredentials(ctx, iamcredentials.CloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("load ADC credentials: %w", err)
	}
	svc, err := iamcredentials.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("iamcredentials service: %w", err)
	}

	name := "projects/-/serviceAccounts/" + email
	return &urlSigner{
		accessID: email,
		signBytes: func(payload []byte) ([]byte, error) {
			resp, err := svc.Projects.ServiceAccounts.SignBlob(name, &iamcredentials.SignBlobRequest{
				Payload: base64.StdEncoding.EncodeToString(payload),
			}).Do()
			if err != nil {
				return nil, err
			}
			return base64.StdEncoding.DecodeString(resp.SignedBlob)
		},
	}, nil
}
