package video

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/streamforge/backend/internal/apperrors"
	httpapi "github.com/streamforge/backend/internal/http"
	"github.com/streamforge/backend/internal/logger"
)

// Handler handles HTTP requests for uploads and videos
type Handler struct {
	service  Orchestrator
	response httpapi.ResponseHandler
	logger   logger.Logger
}

// NewHandler creates a new video handler
func NewHandler(service Orchestrator, response httpapi.ResponseHandler, log logger.Logger) *Handler {
	return &Handler{service: service, response: response, logger: log}
}

// RegisterRoutes mounts the upload and video endpoints on a router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	uploads := rg.Group("/uploads")
	{
		uploads.POST("", h.HandleInitiate)
		uploads.POST("/:id/refresh-urls", h.HandleRefreshURLs)
		uploads.PATCH("/:id/part-checksums", h.HandleChecksums)
		uploads.POST("/:id/complete", h.HandleComplete)
		uploads.POST("/:id/abort", h.HandleAbort)
	}

	videos := rg.Group("/videos")
	{
		videos.GET("", h.HandleList)
		videos.GET("/:id", h.HandleGet)
		videos.GET("/:id/status", h.HandleStatus)
		videos.POST("/:id/retry", h.HandleRetry)
		videos.DELETE("/:id", h.HandleDelete)
	}
}

// HandleInitiate handles POST /uploads
func (h *Handler) HandleInitiate(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.ErrorResponse(c, http.StatusBadRequest, "ERR_INVALID_BODY", "Invalid request body", err)
		return
	}

	plan, err := h.service.Initiate(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err, "Failed to initiate upload")
		return
	}
	h.response.SuccessResponse(c, plan, "Upload initiated")
}

// HandleRefreshURLs handles POST /uploads/:id/refresh-urls
func (h *Handler) HandleRefreshURLs(c *gin.Context) {
	resp, err := h.service.RefreshURLs(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to refresh upload urls")
		return
	}
	h.response.SuccessResponse(c, resp, "Upload urls refreshed")
}

// HandleChecksums handles PATCH /uploads/:id/part-checksums
func (h *Handler) HandleChecksums(c *gin.Context) {
	var req ChecksumsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.ErrorResponse(c, http.StatusBadRequest, "ERR_INVALID_BODY", "Invalid request body", err)
		return
	}

	if err := h.service.RecordChecksums(c.Request.Context(), c.Param("id"), req); err != nil {
		h.respondError(c, err, "Failed to record checksums")
		return
	}
	h.response.SuccessResponse(c, nil, "Checksums recorded")
}

// HandleComplete handles POST /uploads/:id/complete
func (h *Handler) HandleComplete(c *gin.Context) {
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.ErrorResponse(c, http.StatusBadRequest, "ERR_INVALID_BODY", "Invalid request body", err)
		return
	}

	v, err := h.service.Complete(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.respondError(c, err, "Failed to complete upload")
		return
	}
	h.response.SuccessResponse(c, v, "Upload completed")
}

// HandleAbort handles POST /uploads/:id/abort
func (h *Handler) HandleAbort(c *gin.Context) {
	v, err := h.service.Abort(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to abort upload")
		return
	}
	h.response.SuccessResponse(c, v, "Upload aborted")
}

// HandleList handles GET /videos
func (h *Handler) HandleList(c *gin.Context) {
	opts := ListOptions{Status: Status(c.Query("status"))}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			h.response.ValidationErrorResponse(c, "limit", "limit must be an integer")
			return
		}
		opts.Limit = n
	}
	if offset := c.Query("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil {
			h.response.ValidationErrorResponse(c, "offset", "offset must be an integer")
			return
		}
		opts.Offset = n
	}

	resp, err := h.service.List(c.Request.Context(), opts)
	if err != nil {
		h.respondError(c, err, "Failed to list videos")
		return
	}
	h.response.SuccessResponse(c, resp, "")
}

// HandleGet handles GET /videos/:id
func (h *Handler) HandleGet(c *gin.Context) {
	detail, err := h.service.GetDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to load video")
		return
	}
	h.response.SuccessResponse(c, detail, "")
}

// HandleStatus handles GET /videos/:id/status
func (h *Handler) HandleStatus(c *gin.Context) {
	status, err := h.service.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to load video status")
		return
	}
	h.response.SuccessResponse(c, status, "")
}

// HandleRetry handles POST /videos/:id/retry
func (h *Handler) HandleRetry(c *gin.Context) {
	v, err := h.service.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to retry processing")
		return
	}
	h.response.SuccessResponse(c, v, "Processing requeued")
}

// HandleDelete handles DELETE /videos/:id
func (h *Handler) HandleDelete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err, "Failed to delete video")
		return
	}
	h.response.SuccessResponse(c, nil, "Video deleted")
}

// respondError maps service errors to HTTP responses
func (h *Handler) respondError(c *gin.Context, err error, message string) {
	var validationErr *apperrors.ValidationError
	var storageErr *apperrors.StorageError
	var processingErr *apperrors.ProcessingError

	switch {
	case errors.Is(err, ErrNotFound):
		h.response.NotFoundResponse(c, "Video not found")
	case errors.Is(err, ErrConflict):
		h.response.ErrorResponse(c, http.StatusConflict, "ERR_CONFLICT", err.Error(), nil)
	case errors.As(err, &validationErr):
		h.response.ValidationErrorResponse(c, validationErr.Field, validationErr.Message)
	case errors.As(err, &storageErr):
		h.response.ErrorResponse(c, http.StatusBadGateway, "ERR_STORAGE", storageErr.Message, err)
	case errors.As(err, &processingErr):
		h.response.ErrorResponse(c, http.StatusConflict, "ERR_PROCESSING", processingErr.Message, err)
	default:
		h.response.InternalErrorResponse(c, message, err)
	}
}
