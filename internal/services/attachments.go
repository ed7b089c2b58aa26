package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/vanshansh-prajav/Hack36/internal/models"
	"github.com/vanshansh-prajav/Hack36/pkg/apperr"
)

// MaxImageBytes is the default attachment size cap.
const MaxImageBytes = 5 << 20

// ImageEncoder turns raw image bytes into an attachment a message can carry.
type ImageEncoder interface {
	Encode(ctx context.Context, name, contentType string, data []byte) (*models.ImageAttachment, error)
}

// ValidateImage enforces the image/* type and the size cap.
func ValidateImage(contentType string, size, maxBytes int64) error {
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return apperr.ErrNotAnImage
	}
	if maxBytes <= 0 {
		maxBytes = MaxImageBytes
	}
	if size > maxBytes {
		return apperr.ErrImageTooLarge
	}
	return nil
}

// InlineEncoder embeds the image in the message as a base64 data URL.
type InlineEncoder struct {
	MaxBytes int64
}

func (e InlineEncoder) Encode(ctx context.Context, name, contentType string, data []byte) (*models.ImageAttachment, error) {
	if err := ValidateImage(contentType, int64(len(data)), e.MaxBytes); err != nil {
		return nil, err
	}
	return &models.ImageAttachment{
		Name: name,
		Type: contentType,
		Size: int64(len(data)),
		Data: "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data),
	}, nil
}

// CloudinaryUploader hosts the image on Cloudinary and stores only its URL
// in the message.
type CloudinaryUploader struct {
	cld      *cloudinary.Cloudinary
	folder   string
	MaxBytes int64
}

func NewCloudinaryUploader(cloudName, apiKey, apiSecret, folder string) (*CloudinaryUploader, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudinary: %w", err)
	}
	if folder == "" {
		folder = "chat-images"
	}
	return &CloudinaryUploader{cld: cld, folder: folder}, nil
}

func (u *CloudinaryUploader) Encode(ctx context.Context, name, contentType string, data []byte) (*models.ImageAttachment, error) {
	if err := ValidateImage(contentType, int64(len(data)), u.MaxBytes); err != nil {
		return nil, err
	}
	url, err := u.upload(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &models.ImageAttachment{
		Name: name,
		Type: contentType,
		Size: int64(len(data)),
		URL:  url,
	}, nil
}

// UploadFileFromHeader uploads a multipart image received by the relay.
func (u *CloudinaryUploader) UploadFileFromHeader(ctx context.Context, fileHeader *multipart.FileHeader) (*models.ImageAttachment, error) {
	contentType := fileHeader.Header.Get("Content-Type")
	if err := ValidateImage(contentType, fileHeader.Size, u.MaxBytes); err != nil {
		return nil, err
	}
	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	url, err := u.upload(ctx, file)
	if err != nil {
		return nil, err
	}
	return &models.ImageAttachment{
		Name: fileHeader.Filename,
		Type: contentType,
		Size: fileHeader.Size,
		URL:  url,
	}, nil
}

func (u *CloudinaryUploader) upload(ctx context.Context, r io.Reader) (string, error) {
	result, err := u.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		Folder:       u.folder,
		ResourceType: "image",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to Cloudinary: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("cloudinary rejected upload: %s", result.Error.Message)
	}
	return result.SecureURL, nil
}

// ReadImageFile loads an image from disk and works out its MIME type from
// the extension, falling back to content sniffing.
func ReadImageFile(path string, maxBytes int64) (name, contentType string, data []byte, err error) {
	if maxBytes <= 0 {
		maxBytes = MaxImageBytes
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", "", nil, err
	}
	if info.Size() > maxBytes {
		return "", "", nil, apperr.ErrImageTooLarge
	}
	data, err = os.ReadFile(path)
	if err != nil {
		return "", "", nil, err
	}
	name = filepath.Base(path)
	contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return name, contentType, data, nil
}
