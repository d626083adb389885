package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go-analysis-console/internal/apiclient"
	"go-analysis-console/internal/blobsource"
	"go-analysis-console/internal/dispatcher"
	apperrors "go-analysis-console/internal/errors"
	"go-analysis-console/internal/logger"
	"go-analysis-console/internal/observer"
	"go-analysis-console/internal/preview"
	"go-analysis-console/internal/session"
	"go-analysis-console/internal/workerpool"
	"go-analysis-console/pkg/models"
	"go-analysis-console/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// multipart framing on top of the image itself
const uploadOverhead = 1 << 20

// ResultImages resolves segmentation result references.
type ResultImages interface {
	FetchImage(ctx context.Context, id string) (*apiclient.Image, error)
}

// Dependencies are the components the view surface drives. Blobs, Metrics
// and Pool may be nil.
type Dependencies struct {
	Session  *session.Session
	Previews *preview.Manager
	Images   ResultImages
	Blobs    *blobsource.Source
	Metrics  *observer.MetricsObserver
	Pool     *workerpool.WorkerPool

	MaxUploadSize  int64
	RequestTimeout time.Duration
	SyncTimeout    time.Duration
}

func NewHandler(deps Dependencies) http.Handler {
	r := gin.New()

	r.Use(
		gin.Recovery(),
		requestLogger(),
		requestSizeLimiter(deps.MaxUploadSize+uploadOverhead),
		errorHandler(),
	)

	r.GET("/health", healthCheck(deps))

	api := r.Group("/api")
	{
		api.GET("/view", viewSnapshot(deps))
		api.POST("/mode", setMode(deps))
		api.POST("/model", selectModel(deps))
		api.POST("/params", setParams(deps))
		api.POST("/drag/enter", dragEnter(deps))
		api.POST("/drag/over", dragOver(deps))
		api.POST("/drag/leave", dragLeave(deps))
		api.POST("/file", uploadFile(deps))
		api.POST("/file/blob", selectBlob(deps))
		api.DELETE("/file", clearFile(deps))
		api.POST("/submit", submit(deps))
		api.DELETE("/error", dismissError(deps))
		api.GET("/history", getHistory(deps))
		api.POST("/history/refresh", refreshHistory(deps))
	}

	r.GET("/preview/:token", servePreview(deps))
	r.GET("/results/image/:id", serveResultImage(deps))

	return r
}

func viewSnapshot(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Session.Snapshot())
	}
}

func setMode(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ModeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.NewValidationError("invalid request format", err))
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), deps.SyncTimeout)
		defer cancel()
		if err := deps.Session.SetMode(ctx, req.Mode); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, deps.Session.Snapshot())
	}
}

func selectModel(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ModelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.NewValidationError("invalid request format", err))
			return
		}
		deps.Session.SelectModel(req.Model)
		c.JSON(http.StatusOK, deps.Session.Snapshot())
	}
}

func setParams(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ParamsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.NewValidationError("invalid request format", err))
			return
		}
		if req.Confidence != nil {
			deps.Session.SetConfidence(*req.Confidence)
		}
		if req.TopK != nil {
			deps.Session.SetTopK(*req.TopK)
		}
		c.JSON(http.StatusOK, deps.Session.Snapshot())
	}
}

func dragEnter(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps.Session.DragEnter()
		c.JSON(http.StatusOK, deps.Session.Snapshot())
	}
}

func dragOver(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps.Session.DragOver()
		c.JSON(http.StatusOK, deps.Session.Snapshot())
	}
}

func dragLeave(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.DragLeaveRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, apperrors.NewValidationError("invalid request format", err))
				return
			}
		}
		deps.Session.DragLeave(req.RelatedInside)
		c.JSON(http.StatusOK, deps.Session.Snapshot())
	}
}

// uploadFile accepts the multipart "file" part. source=drop routes it
// through the drop transition, anything else through the file input.
// A request without a file ends a drag or dismisses the dialog.
func uploadFile(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		source := c.PostForm("source")
		if source == "" {
			source = c.Query("source")
		}
		fromDrop := strings.EqualFold(source, "drop")

		file, err := readUpload(c, deps.MaxUploadSize)
		if err != nil {
			respondError(c, err)
			return
		}

		logger.WithFields(logrus.Fields{
			"from_drop": fromDrop,
			"has_file":  file != nil,
		}).Debug("Upload zone received a file")

		if fromDrop {
			err = deps.Session.Drop(file)
		} else {
			err = deps.Session.SelectFile(file)
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, deps.Session.Snapshot())
	}
}

func readUpload(c *gin.Context, maxSize int64) (*models.ImageFile, error) {
	header, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewValidationError("invalid upload", err)
	}
	if maxSize > 0 && header.Size > maxSize {
		return nil, apperrors.NewValidationError(fmt.Sprintf("Image is larger than %d bytes", maxSize), nil)
	}

	f, err := header.Open()
	if err != nil {
		return nil, apperrors.NewInternalError("could not read upload", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperrors.NewInternalError("could not read upload", err)
	}

	return &models.ImageFile{
		Name:        header.Filename,
		ContentType: validation.DeclaredOrSniffed(header.Header.Get("Content-Type"), data),
		Size:        int64(len(data)),
		Data:        data,
	}, nil
}

func selectBlob(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Blobs == nil {
			respondError(c, apperrors.NewNotFoundError("Blob storage is not configured", nil))
			return
		}
		var req models.BlobSelectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.NewValidationError("invalid request format", err))
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), deps.RequestTimeout)
		defer cancel()
		file, err := deps.Blobs.Fetch(ctx, req.Container, req.Blob)
		if err != nil {
			respondError(c, err)
			return
		}
		if err := deps.Session.SelectFile(file); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, deps.Session.Snapshot())
	}
}

func clearFile(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps.Session.Clear()
		c.JSON(http.StatusOK, deps.Session.Snapshot())
	}
}

func submit(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		snap := deps.Session.Snapshot()
		logger.WithFields(logrus.Fields{
			"mode":  snap.Mode,
			"model": snap.Model,
			"ip":    c.ClientIP(),
		}).Info("Processing analysis submission")

		_, err := deps.Session.Submit(c.Request.Context())
		if errors.Is(err, dispatcher.ErrSuperseded) {
			c.AbortWithStatusJSON(http.StatusConflict, models.ErrorResponse{
				Error:   http.StatusText(http.StatusConflict),
				Message: "a newer action replaced this submission",
			})
			return
		}
		if err != nil {
			respondError(c, err)
			return
		}

		logger.WithFields(logrus.Fields{
			"mode":               snap.Mode,
			"processing_time_ms": time.Since(startTime).Milliseconds(),
		}).Info("Analysis submission completed")
		c.JSON(http.StatusOK, deps.Session.Snapshot())
	}
}

func dismissError(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps.Session.DismissError()
		c.JSON(http.StatusOK, deps.Session.Snapshot())
	}
}

func getHistory(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Session.History())
	}
}

// refreshHistory always answers with the view; a failed sync shows up as
// its error while the previous data stays.
func refreshHistory(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), deps.SyncTimeout)
		defer cancel()
		view, _ := deps.Session.RefreshHistory(ctx)
		c.JSON(http.StatusOK, view)
	}
}

func servePreview(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, ok := deps.Previews.Open(c.Param("token"))
		if !ok {
			respondError(c, apperrors.NewNotFoundError("preview not found", nil))
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, res.ContentType, res.Data)
	}
}

func serveResultImage(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.Param("id"))
		if id == "" {
			respondError(c, apperrors.NewValidationError("result image id is required", nil))
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), deps.RequestTimeout)
		defer cancel()
		img, err := deps.Images.FetchImage(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		defer img.Body.Close()

		contentType := img.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.DataFromReader(http.StatusOK, img.ContentLength, contentType, img.Body, nil)
	}
}

func healthCheck(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":  "available",
			"version": "1.0.0",
			"time":    time.Now().UTC().Format(time.RFC3339),
		}
		if deps.Metrics != nil {
			body["metrics"] = deps.Metrics.GetMetrics()
		}
		if deps.Pool != nil {
			stats := deps.Pool.GetStats()
			body["workers"] = gin.H{
				"total_jobs":     stats.TotalJobs,
				"completed_jobs": stats.CompletedJobs,
				"active_workers": stats.ActiveWorkers,
			}
		}
		c.JSON(http.StatusOK, body)
	}
}

// Middleware and helper functions
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status_code": c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.ClientIP(),
		}).Debug("Request handled")
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			respondError(c, c.Errors.Last().Err)
		}
	}
}

func determineStatusCode(err error) int {
	if appErr, ok := apperrors.As(err); ok {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the user-facing message of err; details go to the log.
func respondError(c *gin.Context, err error) {
	code := determineStatusCode(err)
	resp := models.ErrorResponse{Error: http.StatusText(code), Message: "request processing failed"}
	if appErr, ok := apperrors.As(err); ok {
		resp.Type = string(appErr.Type)
		resp.Message = appErr.Message
	}

	entry := logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	c.AbortWithStatusJSON(code, resp)
}
