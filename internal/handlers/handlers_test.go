package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/health-screen/internal/auth"
	"github.com/example/health-screen/internal/prediction"
	"github.com/example/health-screen/internal/predictclient"
	"github.com/example/health-screen/internal/session"
	"github.com/example/health-screen/internal/usecase"
)

const testJWTSecret = "test-secret"

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

type memCache struct {
	mu    sync.Mutex
	items map[string]string
}

func (m *memCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value.(string)
	return nil
}

func (m *memCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.items[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (m *memCache) Del(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[key]; !ok {
		return 0, nil
	}
	delete(m.items, key)
	return 1, nil
}

type testEnv struct {
	router  *gin.Engine
	backend *httptest.Server
	hits    *atomic.Int32
}

func newTestEnv(t *testing.T, backend http.HandlerFunc) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hits := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		backend(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := predictclient.New(predictclient.Config{BaseURL: server.URL}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	uc := usecase.NewScreeningUseCase(session.NewRegistry(client), &memCache{items: map[string]string{}}, nil, time.Minute, zap.NewNop())

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, uc, auth.Middleware(auth.NewVerifier(testJWTSecret, "")))

	return &testEnv{router: router, backend: server, hits: hits}
}

func predictJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType, owner string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if owner != "" {
		req.Header.Set("Authorization", "Bearer "+buildTestToken(t, owner))
	}
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}

func TestSubmitReturnsResult(t *testing.T) {
	env := newTestEnv(t, predictJSON(`{"condition":"Healthy Nail","confidence":"91","explanation":"This is a simple MVP result"}`))

	body, contentType := buildMultipartBody(t, "image/jpeg", jpegBytes, "nail")
	resp := env.do(t, http.MethodPost, "/api/screenings", body, contentType, "user-123")

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, resp.Code, resp.Body.String())
	}
	var got resultResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if got.Condition != "Healthy Nail" || got.Confidence != 0.91 || got.ConfidencePercent != 91 {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got.Category != prediction.CategoryNail || got.RequestID == "" {
		t.Fatalf("unexpected metadata: %+v", got)
	}

	view := env.do(t, http.MethodGet, "/api/screenings/"+got.RequestID, nil, "", "user-123")
	if view.Code != http.StatusOK {
		t.Fatalf("expected stored view, got %d", view.Code)
	}
	foreign := env.do(t, http.MethodGet, "/api/screenings/"+got.RequestID, nil, "", "user-999")
	if foreign.Code != http.StatusNotFound {
		t.Fatalf("expected foreign view to be hidden, got %d", foreign.Code)
	}

	discard := env.do(t, http.MethodDelete, "/api/screenings/"+got.RequestID, nil, "", "user-123")
	if discard.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", discard.Code)
	}
	gone := env.do(t, http.MethodGet, "/api/screenings/"+got.RequestID, nil, "", "user-123")
	if gone.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after discard, got %d", gone.Code)
	}
}

func TestSubmitRejectsLargeUpload(t *testing.T) {
	env := newTestEnv(t, predictJSON(`{}`))

	body, contentType := buildMultipartBody(t, "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1), "")
	resp := env.do(t, http.MethodPost, "/api/screenings", body, contentType, "user-123")

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
	if env.hits.Load() != 0 {
		t.Fatalf("expected backend not to be called")
	}
}

func TestSubmitRejectsUnsupportedContentType(t *testing.T) {
	env := newTestEnv(t, predictJSON(`{}`))

	body, contentType := buildMultipartBody(t, "text/plain", []byte("hello"), "")
	resp := env.do(t, http.MethodPost, "/api/screenings", body, contentType, "user-123")

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
	if env.hits.Load() != 0 {
		t.Fatalf("expected backend not to be called")
	}
}

func TestSubmitRequiresImage(t *testing.T) {
	env := newTestEnv(t, predictJSON(`{}`))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("category", "foot"); err != nil {
		t.Fatalf("failed to write field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	resp := env.do(t, http.MethodPost, "/api/screenings", body, writer.FormDataContentType(), "user-123")

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("no file selected")) {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
}

func TestSubmitRejectsUnknownCategory(t *testing.T) {
	env := newTestEnv(t, predictJSON(`{}`))

	body, contentType := buildMultipartBody(t, "image/jpeg", jpegBytes, "elbow")
	resp := env.do(t, http.MethodPost, "/api/screenings", body, contentType, "user-123")

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte(`"field":"category"`)) {
		t.Fatalf("expected field details, got %s", resp.Body.String())
	}
}

func TestSubmitMapsServerError(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	body, contentType := buildMultipartBody(t, "image/jpeg", jpegBytes, "tongue")
	resp := env.do(t, http.MethodPost, "/api/screenings", body, contentType, "user-123")

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected status %d, got %d", http.StatusBadGateway, resp.Code)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if payload["upstream_status"] != float64(500) {
		t.Fatalf("expected upstream status 500, got %v", payload["upstream_status"])
	}
}

func TestSubmitMapsConnectionError(t *testing.T) {
	env := newTestEnv(t, predictJSON(`{}`))
	baseURL := env.backend.URL
	env.backend.Close()

	body, contentType := buildMultipartBody(t, "image/jpeg", jpegBytes, "tongue")
	resp := env.do(t, http.MethodPost, "/api/screenings", body, contentType, "user-123")

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected status %d, got %d", http.StatusBadGateway, resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte(baseURL)) {
		t.Fatalf("expected message to name %s, got %s", baseURL, resp.Body.String())
	}
}

func TestSubmitRequiresToken(t *testing.T) {
	env := newTestEnv(t, predictJSON(`{}`))

	body, contentType := buildMultipartBody(t, "image/jpeg", jpegBytes, "tongue")
	resp := env.do(t, http.MethodPost, "/api/screenings", body, contentType, "")

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestCategoriesAndMetrics(t *testing.T) {
	env := newTestEnv(t, predictJSON(`{}`))

	resp := env.do(t, http.MethodGet, "/api/categories", nil, "", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var payload struct {
		Categories []string `json:"categories"`
		Default    string   `json:"default"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if len(payload.Categories) != 4 || payload.Default != "tongue" {
		t.Fatalf("unexpected categories: %+v", payload)
	}

	metrics := env.do(t, http.MethodGet, "/api/metrics", nil, "", "user-123")
	if metrics.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected metrics to be disabled, got %d", metrics.Code)
	}
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte, category string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}
	if category != "" {
		if err := writer.WriteField("category", category); err != nil {
			t.Fatalf("failed to write category: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
