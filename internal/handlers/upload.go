package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/vanshansh-prajav/Hack36/internal/config"
	"github.com/vanshansh-prajav/Hack36/internal/models"
	"github.com/vanshansh-prajav/Hack36/internal/services"
	"github.com/vanshansh-prajav/Hack36/pkg/apperr"
)

var uploader *services.CloudinaryUploader

func InitCloudinaryService(cfg *config.Config) error {
	u, err := services.NewCloudinaryUploader(
		cfg.CloudinaryName,
		cfg.CloudinaryAPIKey,
		cfg.CloudinaryAPISecret,
		cfg.CloudinaryFolder,
	)
	if err != nil {
		return err
	}
	u.MaxBytes = cfg.MaxImageBytes
	uploader = u
	return nil
}

type UploadResponse struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message"`
	Image   *models.ImageAttachment `json:"image,omitempty"`
}

// UploadImage hosts a chat image on Cloudinary and returns the attachment
// record a client puts in its message.
func UploadImage(w http.ResponseWriter, r *http.Request) {
	if uploader == nil {
		writeFailure(w, http.StatusServiceUnavailable, "image uploads are not configured")
		return
	}

	maxBytes := uploader.MaxBytes
	if maxBytes <= 0 {
		maxBytes = services.MaxImageBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
	if err := r.ParseMultipartForm(maxBytes + 1<<20); err != nil {
		writeFailure(w, http.StatusBadRequest, "failed to parse form: "+err.Error())
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "no file provided")
		return
	}
	file.Close()

	img, err := uploader.UploadFileFromHeader(r.Context(), fileHeader)
	switch {
	case errors.Is(err, apperr.ErrNotAnImage):
		writeFailure(w, http.StatusUnsupportedMediaType, err.Error())
		return
	case errors.Is(err, apperr.ErrImageTooLarge):
		writeFailure(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case err != nil:
		log.Printf("upload: %v", err)
		writeFailure(w, http.StatusBadGateway, "failed to upload image")
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Success: true,
		Message: "Image uploaded successfully",
		Image:   img,
	})
}
