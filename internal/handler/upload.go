package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/bikaxh01/toothsi-bot/internal/service"
	"github.com/bikaxh01/toothsi-bot/pkg/response"
)

type UploadHandler struct {
	service *service.UploadService
}

func NewUploadHandler(svc *service.UploadService) *UploadHandler {
	return &UploadHandler{
		service: svc,
	}
}

// Upload handles POST /api/upload
// @Summary      Register a call batch
// @Description  Upload a spreadsheet of contacts; polling of the new batch starts on success
// @Tags         Upload
// @Accept       multipart/form-data
// @Produce      json
// @Param        file formData file true "Spreadsheet (.xlsx, .xls; max 50MB)"
// @Success      201 {object} model.UploadResult
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/upload [post]
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}
	files := form.File["file"]
	if len(files) == 0 {
		return response.ValidationError(c, "File is required", nil)
	}
	if len(files) > 1 {
		return response.ValidationError(c, "Only one file can be uploaded at a time", fiber.Map{
			"files": len(files),
		})
	}
	file := files[0]

	if err := service.ValidateFile(file.Filename, file.Size); err != nil {
		return response.ValidationError(c, err.Error(), fiber.Map{
			"fileName": file.Filename,
			"fileSize": file.Size,
			"maxSize":  service.MaxUploadSize,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	result, err := h.service.Upload(c.UserContext(), file.Filename, f, file.Size)
	if err != nil {
		if errors.Is(err, service.ErrInvalidFile) {
			return response.ValidationError(c, err.Error(), nil)
		}
		return serviceError(c, err)
	}

	return response.Created(c, result)
}
