package api

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hookwire/hookwire/internal/auth"
	"github.com/hookwire/hookwire/internal/config"
)

func newTestServer(t *testing.T, validator *auth.JWTValidator) *Server {
	t.Helper()
	s := NewServer(config.Config{HTTPPort: ":0"}, testLog)

	h := &Handlers{
		Endpoints:  NewEndpointHandler(newFakeEndpointStore(), &fakeInvalidator{}, testLog),
		Events:     NewEventHandler(&fakeEmitter{}, testLog),
		Deliveries: NewDeliveryHandler(newFakeDeliveryStore(), &fakeTaskPublisher{}, "deliveries", testLog),
	}
	healthz := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}
	s.SetupRoutes(h, validator, healthz, prometheus.NewRegistry())
	return s
}

func TestRoutesWithoutValidator(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/v1/endpoints", http.StatusOK},
		{http.MethodGet, "/api/v1/deliveries", http.StatusOK},
		{http.MethodGet, "/api/v1/dead-letters", http.StatusOK},
		{http.MethodGet, "/api/v1/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		w := httptest.NewRecorder()
		s.engine.ServeHTTP(w, req)
		if w.Code != tt.wantStatus {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, w.Code, tt.wantStatus)
		}
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pemStr := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	validator, err := auth.NewJWTValidator(pemStr, "hookwire", "hookwire-api")
	if err != nil {
		t.Fatalf("NewJWTValidator: %v", err)
	}
	s := newTestServer(t, validator)

	// API routes reject anonymous callers.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/endpoints", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous api call status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// Health stays public.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w = httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Errorf("healthz body = %q, want ok:true", w.Body.String())
	}
}
