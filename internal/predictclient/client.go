// Package predictclient uploads images to the prediction backend.
package predictclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/example/health-screen/internal/logging"
	"github.com/example/health-screen/internal/prediction"
)

// DefaultBaseURL is the local development backend.
const DefaultBaseURL = "http://localhost:5000"

// Config is resolved once by the caller and injected at construction.
type Config struct {
	BaseURL string
	// Timeout bounds one submission. Zero means no timeout.
	Timeout time.Duration
	// HTTPClient overrides the transport. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client posts one image per call to {BaseURL}/predict. It does not
// serialize concurrent calls; callers guard re-submission via InFlight or
// a session.Form.
type Client struct {
	baseURL  string
	endpoint string
	http     *http.Client
	logger   *zap.Logger
	inFlight atomic.Int64
}

var _ prediction.Predictor = (*Client)(nil)

type predictResponse struct {
	Condition   string                `json:"condition"`
	Confidence  prediction.Confidence `json:"confidence"`
	Explanation string                `json:"explanation"`
}

// New validates the base URL and builds a client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	configured := strings.TrimSpace(cfg.BaseURL)
	if configured == "" {
		configured = DefaultBaseURL
	}
	base := strings.TrimRight(configured, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid prediction base url %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:  configured,
		endpoint: base + "/predict",
		http:     httpClient,
		logger:   logger.Named("predictclient"),
	}, nil
}

// BaseURL returns the backend address as it was configured.
func (c *Client) BaseURL() string { return c.baseURL }

// InFlight reports whether any submission is outstanding.
func (c *Client) InFlight() bool { return c.inFlight.Load() > 0 }

// Submit validates img, uploads it with category and returns the normalized result.
func (c *Client) Submit(ctx context.Context, img *prediction.Image, category prediction.Category) (*prediction.Result, error) {
	mediaType, err := Validate(img)
	if err != nil {
		return nil, err
	}
	if category == "" {
		category = prediction.DefaultCategory
	}
	if !category.Valid() {
		return nil, ErrInvalidCategory
	}

	body, contentType, err := encodeUpload(img, mediaType, category)
	if err != nil {
		return nil, logging.NewOperationError("predictclient.encode_upload", "", err)
	}

	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, logging.NewOperationError("predictclient.build_request", "", err)
	}
	req.Header.Set("Content-Type", contentType)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		connErr := &ConnectionError{BaseURL: c.baseURL, Err: err}
		c.logger.Error("prediction backend unreachable", zap.String("base_url", c.baseURL), zap.Error(err))
		return nil, connErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Warn("prediction backend returned error status",
			zap.Int("status", resp.StatusCode),
			zap.String("category", string(category)),
		)
		return nil, &ServerError{StatusCode: resp.StatusCode}
	}

	var payload predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, logging.NewOperationError("predictclient.decode_response", "", err)
	}

	c.logger.Debug("prediction received",
		zap.String("category", string(category)),
		zap.String("condition", payload.Condition),
		zap.Float64("confidence", float64(payload.Confidence)),
		zap.Duration("latency", time.Since(started)),
	)

	return &prediction.Result{
		Condition:   payload.Condition,
		Confidence:  float64(payload.Confidence),
		Explanation: payload.Explanation,
	}, nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func encodeUpload(img *prediction.Image, mediaType string, category prediction.Category) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := img.Filename
	if filename == "" {
		filename = "upload"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, quoteEscaper.Replace(filename)))
	header.Set("Content-Type", mediaType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("category", string(category)); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}
