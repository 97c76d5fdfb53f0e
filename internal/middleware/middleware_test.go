package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/simonkvalheim/fjord-microfinance/internal/auth"
	"github.com/simonkvalheim/fjord-microfinance/internal/metrics"
)

func echoIdentity(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Write([]byte(id.Subject.String() + " " + string(id.Role)))
}

func TestRequireAuth(t *testing.T) {
	v := auth.NewVerifier("secret", "")
	member := uuid.New()
	token, err := v.Sign(auth.Identity{Subject: member, Role: auth.RoleMember}, time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	handler := NewAuthMiddleware(v).RequireAuth(http.HandlerFunc(echoIdentity))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"bad token", "Bearer nope", http.StatusUnauthorized, ""},
		{"valid", "Bearer " + token, http.StatusOK, member.String() + " member"},
		{"lowercase scheme", "bearer " + token, http.StatusOK, member.String() + " member"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rr.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rr.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := RequireRole(auth.RoleOfficer, auth.RoleAdmin)(ok)

	tests := []struct {
		name       string
		identity   *auth.Identity
		wantStatus int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"member", &auth.Identity{Subject: uuid.New(), Role: auth.RoleMember}, http.StatusForbidden},
		{"officer", &auth.Identity{Subject: uuid.New(), Role: auth.RoleOfficer}, http.StatusNoContent},
		{"admin", &auth.Identity{Subject: uuid.New(), Role: auth.RoleAdmin}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.identity != nil {
				req = req.WithContext(WithIdentity(req.Context(), *tt.identity))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestGetMemberID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetMemberID(req.Context()); got != uuid.Nil {
		t.Errorf("GetMemberID() = %v, want nil uuid", got)
	}
	id := uuid.New()
	ctx := WithIdentity(req.Context(), auth.Identity{Subject: id, Role: auth.RoleMember})
	if got := GetMemberID(ctx); got != id {
		t.Errorf("GetMemberID() = %v, want %v", got, id)
	}
}

func TestCORS(t *testing.T) {
	handler := CORS(DefaultCORSConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/accounts", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q for a foreign origin", got)
	}
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	r := chi.NewRouter()
	r.Use(RequestLogger(zap.New(core)))
	r.Get("/v1/loans/{loanID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	counter := metrics.HTTPRequests.WithLabelValues("/v1/loans/{loanID}", http.MethodGet, "418")
	before := testutil.ToFloat64(counter)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/loans/42", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("request counter delta = %v, want 1", got)
	}
	entries := logs.FilterMessage("http request").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["route"] != "/v1/loans/{loanID}" {
		t.Errorf("route = %v", fields["route"])
	}
	if fields["status"] != int64(http.StatusTeapot) {
		t.Errorf("status = %v", fields["status"])
	}
}
