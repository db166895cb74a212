package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/health-screen/internal/auth"
	"github.com/example/health-screen/internal/prediction"
	"github.com/example/health-screen/internal/predictclient"
	"github.com/example/health-screen/internal/session"
	"github.com/example/health-screen/internal/usecase"
)

// MaxUploadSize caps the multipart memory and the bytes read per image.
const MaxUploadSize = prediction.MaxImageSize

// ScreeningService is the subset of the use case the routes depend on.
type ScreeningService interface {
	Submit(ctx context.Context, owner string, img *prediction.Image, category prediction.Category) (*usecase.ResultView, error)
	GetResult(ctx context.Context, owner, requestID string) (*usecase.ResultView, error)
	DiscardResult(ctx context.Context, owner, requestID string) error
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type submitForm struct {
	Category string `form:"category" binding:"omitempty,oneof=tongue nail ankle foot"`
}

type resultResponse struct {
	RequestID         string              `json:"request_id"`
	Category          prediction.Category `json:"category"`
	Condition         string              `json:"condition"`
	Confidence        float64             `json:"confidence"`
	ConfidencePercent int                 `json:"confidence_percent"`
	Explanation       string              `json:"explanation,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	ExpiresAt         time.Time           `json:"expires_at"`
}

func newResultResponse(view *usecase.ResultView) resultResponse {
	return resultResponse{
		RequestID:         view.RequestID,
		Category:          view.Category,
		Condition:         view.Result.Condition,
		Confidence:        view.Result.Confidence,
		ConfidencePercent: view.Result.ConfidencePercent(),
		Explanation:       view.Result.Explanation,
		CreatedAt:         view.CreatedAt,
		ExpiresAt:         view.ExpiresAt,
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc ScreeningService, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/categories", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"categories": prediction.Categories(),
			"default":    prediction.DefaultCategory,
		})
	})

	protected := api.Group("", authMiddleware)

	protected.POST("/screenings", func(c *gin.Context) {
		owner, ok := auth.Owner(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var form submitForm
		if err := c.ShouldBind(&form); err != nil {
			respondBindingError(c, err)
			return
		}

		img, err := readImage(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		view, err := svc.Submit(c.Request.Context(), owner, img, prediction.Category(form.Category))
		if err != nil {
			respondSubmitError(c, err)
			return
		}

		c.JSON(http.StatusCreated, newResultResponse(view))
	})

	protected.GET("/screenings/:id", func(c *gin.Context) {
		owner, _ := auth.Owner(c.Request.Context())
		view, err := svc.GetResult(c.Request.Context(), owner, c.Param("id"))
		if errors.Is(err, usecase.ErrResultNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
			return
		}
		c.JSON(http.StatusOK, newResultResponse(view))
	})

	protected.DELETE("/screenings/:id", func(c *gin.Context) {
		owner, _ := auth.Owner(c.Request.Context())
		err := svc.DiscardResult(c.Request.Context(), owner, c.Param("id"))
		if errors.Is(err, usecase.ErrResultNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to discard result"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	protected.GET("/metrics", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if errors.Is(err, usecase.ErrMetricsDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

var errUnreadableImage = errors.New("unable to read image")

// readImage returns nil when no file was attached so the missing file is
// reported by the same validation path as every other rejection.
func readImage(c *gin.Context) (*prediction.Image, error) {
	file, err := c.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, errUnreadableImage
	}

	src, err := file.Open()
	if err != nil {
		return nil, errUnreadableImage
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
	if err != nil {
		return nil, errUnreadableImage
	}

	return &prediction.Image{
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func respondSubmitError(c *gin.Context, err error) {
	var (
		validationErr *predictclient.ValidationError
		connErr       *predictclient.ConnectionError
		serverErr     *predictclient.ServerError
	)
	switch {
	case errors.Is(err, predictclient.ErrFileTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, predictclient.ErrInvalidFileType):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Reason})
	case errors.Is(err, session.ErrSubmissionInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &connErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": connErr.Error()})
	case errors.As(err, &serverErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":           "analysis failed, please try again",
			"upstream_status": serverErr.StatusCode,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis failed, please try again"})
	}
}
