package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/premarket/internal/cache/local"
	"github.com/alanyoungcy/premarket/internal/crypto"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	return crypto.NewSigner(key)
}

func signedRequest(t *testing.T, s *crypto.Signer, method, target string, ts time.Time, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	headers, err := s.Headers(method, req.URL.RequestURI(), ts.Unix(), []byte(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

// echoCaller answers with the caller address and the body it received.
func echoCaller() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		caller, ok := CallerFrom(r.Context())
		_ = json.NewEncoder(w).Encode(map[string]any{
			"caller": caller.Hex(),
			"ok":     ok,
			"body":   string(body),
		})
	})
}

func sigMiddleware() func(http.Handler) http.Handler {
	return Signature(SignatureConfig{Skew: time.Minute, Now: func() time.Time { return testNow }})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSignatureAcceptsValidRequest(t *testing.T) {
	s := newSigner(t)
	req := signedRequest(t, s, http.MethodPost, "/api/offers?x=1", testNow.Add(-30*time.Second), `{"kind":"sell"}`)
	rec := httptest.NewRecorder()

	sigMiddleware()(echoCaller()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, s.Address().Hex(), out["caller"])
	assert.Equal(t, `{"kind":"sell"}`, out["body"], "body is restored for the handler")
}

func TestSignatureRejections(t *testing.T) {
	s := newSigner(t)
	other := newSigner(t)

	cases := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{"unsigned post", func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/offers", nil)
		}, http.StatusUnauthorized},
		{"stale timestamp", func() *http.Request {
			return signedRequest(t, s, http.MethodPost, "/api/offers", testNow.Add(-2*time.Minute), "{}")
		}, http.StatusUnauthorized},
		{"future timestamp", func() *http.Request {
			return signedRequest(t, s, http.MethodPost, "/api/offers", testNow.Add(2*time.Minute), "{}")
		}, http.StatusUnauthorized},
		{"tampered body", func() *http.Request {
			req := signedRequest(t, s, http.MethodPost, "/api/offers", testNow, `{"value":"1"}`)
			req.Body = io.NopCloser(strings.NewReader(`{"value":"9"}`))
			return req
		}, http.StatusUnauthorized},
		{"other path", func() *http.Request {
			req := signedRequest(t, s, http.MethodPost, "/api/offers/1/fill", testNow, "")
			req.URL.Path = "/api/offers/2/fill"
			return req
		}, http.StatusUnauthorized},
		{"claimed address mismatch", func() *http.Request {
			req := signedRequest(t, s, http.MethodPost, "/api/offers", testNow, "{}")
			req.Header.Set(crypto.HeaderAddress, other.Address().Hex())
			return req
		}, http.StatusUnauthorized},
		{"oversized body", func() *http.Request {
			body := strings.Repeat("a", maxSignedBody+1)
			return signedRequest(t, s, http.MethodPost, "/api/offers", testNow, body)
		}, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			sigMiddleware()(echoCaller()).ServeHTTP(rec, tc.req())
			assert.Equal(t, tc.status, rec.Code)
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
}

func TestSignatureOptionalOnReads(t *testing.T) {
	rec := httptest.NewRecorder()
	sigMiddleware()(echoCaller()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["ok"])

	s := newSigner(t)
	rec = httptest.NewRecorder()
	sigMiddleware()(echoCaller()).ServeHTTP(rec, signedRequest(t, s, http.MethodGet, "/api/orders", testNow, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, s.Address().Hex(), decode(t, rec)["caller"])
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := CORS([]string{"https://desk.example"})(next)

	req := httptest.NewRequest(http.MethodOptions, "/api/offers", nil)
	req.Header.Set("Origin", "https://desk.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://desk.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), crypto.HeaderSignature)

	req = httptest.NewRequest(http.MethodGet, "/api/offers", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitKeysByCallerThenIP(t *testing.T) {
	limiter := local.NewRateLimiter()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RateLimit(limiter, 1, time.Minute)(ok)

	anon := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/offers", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, anon("1.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, anon("1.1.1.1"))
	assert.Equal(t, http.StatusOK, anon("2.2.2.2"))

	req := httptest.NewRequest(http.MethodGet, "/api/offers", nil)
	req.Header.Set("X-Forwarded-For", "1.1.1.1")
	req = req.WithContext(WithCaller(req.Context(), common.HexToAddress("0xb0b")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "callers get their own bucket")
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, assert.AnError
}

func TestRateLimitFailsOpen(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	rec := httptest.NewRecorder()
	RateLimit(failingLimiter{}, 1, time.Minute)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoggingRecordsCaller(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s := newSigner(t)

	h := Logging(logger)(sigMiddleware()(echoCaller()))
	h.ServeHTTP(httptest.NewRecorder(), signedRequest(t, s, http.MethodPost, "/api/offers", testNow, "{}"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "http request", entry["msg"])
	assert.Equal(t, "http", entry["component"])
	assert.Equal(t, s.Address().Hex(), entry["caller"])
	assert.EqualValues(t, http.StatusOK, entry["status"])
}
