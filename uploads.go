package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type uploadSignRequest struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	ClientId int    `json:"clientId"`
}

type uploadCompleteRequest struct {
	ObjectKey    string  `json:"objectKey"`
	MimeType     string  `json:"mimeType"`
	ClientId     int     `json:"clientId"`
	Nome         string  `json:"nome"`
	DataValidade *string `json:"dataValidade"`
}

type uploadSignResponse struct {
	UploadURL string            `json:"uploadUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ObjectKey string            `json:"objectKey"`
	AccessURL string            `json:"accessUrl"`
	ExpiresAt string            `json:"expiresAt"`
}

type uploadCompleteResponse struct {
	ObjectKey          string                  `json:"objectKey"`
	Url                string                  `json:"url"`
	ThumbnailUrl       string                  `json:"thumbnailUrl,omitempty"`
	ThumbnailObjectKey string                  `json:"thumbnailObjectKey,omitempty"`
	Documento          *models.ClientDocumento `json:"documento"`
}

const maxUploadSizeBytes int64 = 10 * 1024 * 1024

const thumbnailWidth = 200

var imageMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

var documentMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

func clientObjectPrefix(clientId int) string {
	return path.Join("clientes", strconv.Itoa(clientId)) + "/"
}

func signUploadHandler(c *gin.Context) {
	logger := config.GetLogger()
	requestID := requestIDFromHeaders(c)

	var req uploadSignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.FileName == "" || req.MimeType == "" || req.Size <= 0 || req.ClientId <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fileName, mimeType, size and clientId are required"})
		return
	}
	if req.Size > maxUploadSizeBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds 10MB limit"})
		return
	}
	if !documentMimeTypes[req.MimeType] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}
	if utils.GetStorageProvider() != utils.StorageProviderGCS {
		c.JSON(http.StatusBadRequest, gin.H{"error": "storage provider not supported"})
		return
	}
	if _, err := models.GetClient(c.Request.Context(), req.ClientId); err != nil {
		respondError(c, err)
		return
	}

	ext := strings.ToLower(filepath.Ext(req.FileName))
	if ext == "" {
		ext = extensionFromMimeType(req.MimeType)
	}
	if ext == "" || sanitizeSegment(strings.TrimPrefix(ext, ".")) != strings.TrimPrefix(ext, ".") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file extension"})
		return
	}

	objectKey := clientObjectPrefix(req.ClientId) + uuid.New().String() + ext
	signed, err := utils.SignUpload(c.Request.Context(), objectKey, req.MimeType, 15*time.Minute)
	if err != nil {
		logUploadError(logger, err, requestID)
		message := "failed to sign upload"
		if !config.IsProduction() {
			message = fmt.Sprintf("failed to sign upload: %v", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
		return
	}

	logger.WithFields(logrus.Fields{
		"client_id":  req.ClientId,
		"mime_type":  req.MimeType,
		"size":       req.Size,
		"object_key": objectKey,
	}).Info("[upload.sign]")

	c.JSON(http.StatusOK, gin.H{
		"data": uploadSignResponse{
			UploadURL: signed.UploadURL,
			Method:    signed.Method,
			Headers:   signed.Headers,
			ObjectKey: signed.ObjectKey,
			AccessURL: signed.AccessURL,
			ExpiresAt: signed.ExpiresAt.UTC().Format(time.RFC3339),
		},
	})
}

// completeUploadHandler attaches an uploaded object to the client's documents.
// Images also get a thumbnail next to the original.
func completeUploadHandler(c *gin.Context) {
	logger := config.GetLogger()
	requestID := requestIDFromHeaders(c)

	author, ok := sessionAuthor(c)
	if !ok {
		return
	}
	var req uploadCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	req.Nome = strings.TrimSpace(req.Nome)
	if req.ObjectKey == "" || req.ClientId <= 0 || req.Nome == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "objectKey, clientId and nome are required"})
		return
	}
	if !strings.HasPrefix(req.ObjectKey, clientObjectPrefix(req.ClientId)) || strings.Contains(req.ObjectKey, "..") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid object key"})
		return
	}

	ctx := c.Request.Context()
	response := uploadCompleteResponse{
		ObjectKey: req.ObjectKey,
		Url:       utils.BuildObjectAccessURL(req.ObjectKey),
	}
	if imageMimeTypes[req.MimeType] {
		thumbnailKey, err := createThumbnail(ctx, req.ObjectKey)
		if err != nil {
			logUploadError(logger, err, requestID)
			respondError(c, err)
			return
		}
		response.ThumbnailUrl = utils.BuildObjectAccessURL(thumbnailKey)
		response.ThumbnailObjectKey = thumbnailKey
	}

	patch := models.ClientPatch{Documentos: []*models.NewClientDocumento{{
		Nome:         req.Nome,
		Url:          response.Url,
		ThumbnailUrl: response.ThumbnailUrl,
		DataValidade: req.DataValidade,
	}}}
	client, err := models.UpdateClient(ctx, req.ClientId, &patch, author)
	if err != nil {
		logUploadError(logger, err, requestID)
		if response.ThumbnailObjectKey != "" {
			if derr := utils.DeleteObjectFromGCS(context.Background(), response.ThumbnailObjectKey); derr != nil {
				logUploadError(logger, derr, requestID)
			}
		}
		respondError(c, err)
		return
	}
	for _, d := range client.Documentos {
		if d.Url == response.Url {
			response.Documento = d
		}
	}

	logger.WithFields(logrus.Fields{
		"client_id":  req.ClientId,
		"object_key": req.ObjectKey,
		"status":     "completed",
	}).Info("[upload.complete]")

	c.JSON(http.StatusOK, gin.H{"data": response})
}

// uploadObjectHandler streams a stored object through the backend for
// buckets without public access, or redirects to a signed GET with ?signed=true.
func uploadObjectHandler(c *gin.Context) {
	objectKey := strings.TrimSpace(c.Query("key"))
	if objectKey == "" || strings.Contains(objectKey, "..") || strings.HasPrefix(objectKey, "/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key"})
		return
	}
	if utils.GetStorageProvider() != utils.StorageProviderGCS {
		c.JSON(http.StatusBadRequest, gin.H{"error": "storage provider not supported"})
		return
	}
	if c.Query("signed") == "true" {
		url, err := utils.SignDownload(c.Request.Context(), objectKey, 5*time.Minute)
		if err != nil {
			logUploadError(config.GetLogger(), err, requestIDFromHeaders(c))
			respondError(c, err)
			return
		}
		c.Redirect(http.StatusFound, url)
		return
	}
	data, contentType, err := utils.ReadObjectFromGCS(c.Request.Context(), objectKey)
	if err != nil {
		respondError(c, err)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, data)
}

func createThumbnail(ctx context.Context, objectKey string) (string, error) {
	data, _, err := utils.ReadObjectFromGCS(ctx, objectKey)
	if err != nil {
		return "", err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", utils.NewValidationError("objectKey", "object is not a readable image")
	}
	thumbnail := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG); err != nil {
		return "", err
	}
	thumbnailKey := thumbnailObjectKey(objectKey)
	if err := utils.UploadBytesToGCS(ctx, thumbnailKey, buf.Bytes(), "image/jpeg"); err != nil {
		return "", err
	}
	return thumbnailKey, nil
}

func thumbnailObjectKey(objectKey string) string {
	dir := path.Dir(objectKey)
	filename := strings.TrimSuffix(path.Base(objectKey), path.Ext(objectKey)) + ".jpg"
	return path.Join(dir, "thumbnails", filename)
}

func sanitizeSegment(input string) string {
	var out strings.Builder
	for _, r := range strings.ToLower(input) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			out.WriteRune(r)
		}
	}
	return out.String()
}

func extensionFromMimeType(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}

func logUploadError(logger *logrus.Logger, err error, requestID string) {
	logger.WithFields(logrus.Fields{
		"error":      err.Error(),
		"provider":   utils.GetStorageProvider(),
		"request_id": requestID,
	}).Error("[upload.error]")
}

func requestIDFromHeaders(c *gin.Context) string {
	if id, ok := utils.GetCorrelationIdFromContext(c.Request.Context()); ok && id != "" {
		return id
	}
	if id := strings.TrimSpace(c.GetHeader("X-Request-Id")); id != "" {
		return id
	}
	return fmt.Sprintf("upload-%d", time.Now().UnixNano())
}
