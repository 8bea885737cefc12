package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"roadassist/config"
	"roadassist/pkg/auth"
	"roadassist/pkg/logger"
	"roadassist/pkg/models"
	"roadassist/service"
	"roadassist/storage/memory"
)

type testServer struct {
	t        *testing.T
	router   *gin.Engine
	verifier *auth.Verifier
}

func newTestServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)
	cfg := config.Config{DispatchRadiusMeters: 10000, DispatchLimit: 20, BookingQuota: 2, NotificationTTL: time.Hour}
	svc := service.New(memory.New(), cfg, logger.NewNop())
	v := auth.NewVerifier("test-secret")
	return &testServer{t: t, router: NewRouter(svc, v, logger.NewNop()), verifier: v}
}

func (s *testServer) token(sub, role string) string {
	s.t.Helper()
	tok, err := s.verifier.Sign(sub, role, true, true, time.Hour)
	if err != nil {
		s.t.Fatalf("Sign: %v", err)
	}
	return tok
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	var body struct {
		Error string `json:"error"`
	}
	decode(t, w, &body)
	return body.Error
}

func bookingBody(lng, lat float64) gin.H {
	return gin.H{
		"category": "flat-tyre",
		"location": gin.H{"point": gin.H{"lng": lng, "lat": lat}, "address": "Connaught Place"},
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)
	for name, tok := range map[string]string{"missing": "", "garbage": "abc.def.ghi"} {
		if w := s.do(http.MethodGet, "/api/v1/me", tok, nil); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s token = %d", name, w.Code)
		}
	}

	w := s.do(http.MethodGet, "/api/v1/me", s.token("r1", models.RoleRequester), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("/me = %d %s", w.Code, w.Body.String())
	}
	var me models.Principal
	decode(t, w, &me)
	if me.ID != "r1" || me.Role != models.RoleRequester {
		t.Fatalf("me = %+v", me)
	}
}

func TestBookingErrorsMapToStatus(t *testing.T) {
	s := newTestServer(t)
	req := s.token("r1", models.RoleRequester)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		status int
		code   string
	}{
		{"unset location", http.MethodPost, "/api/v1/bookings", req, bookingBody(0, 0), http.StatusBadRequest, "invalid_location"},
		{"missing category", http.MethodPost, "/api/v1/bookings", req, gin.H{}, http.StatusBadRequest, "invalid_input"},
		{"unknown booking", http.MethodGet, "/api/v1/bookings/nope", req, nil, http.StatusNotFound, "not_found"},
		{"provider creates", http.MethodPost, "/api/v1/bookings", s.token("p1", models.RoleProvider), bookingBody(77.209, 28.6139), http.StatusForbidden, "not_authorized"},
	}
	for _, tt := range cases {
		w := s.do(tt.method, tt.path, tt.token, tt.body)
		if w.Code != tt.status {
			t.Fatalf("%s: status %d, want %d (%s)", tt.name, w.Code, tt.status, w.Body.String())
		}
		if code := errorCode(t, w); code != tt.code {
			t.Fatalf("%s: code %q, want %q", tt.name, code, tt.code)
		}
	}
}

func TestAcceptRaceOverHTTP(t *testing.T) {
	s := newTestServer(t)
	req := s.token("r1", models.RoleRequester)

	w := s.do(http.MethodPost, "/api/v1/bookings", req, bookingBody(77.209, 28.6139))
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	var b models.Booking
	decode(t, w, &b)

	if w := s.do(http.MethodPost, "/api/v1/bookings/"+b.ID+"/accept", s.token("pa", models.RoleProvider), nil); w.Code != http.StatusOK {
		t.Fatalf("first accept = %d %s", w.Code, w.Body.String())
	}
	w = s.do(http.MethodPost, "/api/v1/bookings/"+b.ID+"/accept", s.token("pb", models.RoleProvider), nil)
	if w.Code != http.StatusConflict || errorCode(t, w) != "invalid_state" {
		t.Fatalf("second accept = %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodGet, "/api/v1/notifications", req, nil)
	var list []models.Notification
	decode(t, w, &list)
	if len(list) != 1 || list[0].Type != models.NotifBookingAccepted {
		t.Fatalf("requester notifications %+v", list)
	}
	w = s.do(http.MethodGet, "/api/v1/notifications/unread-count", req, nil)
	var count struct {
		Count int `json:"count"`
	}
	decode(t, w, &count)
	if count.Count != 1 {
		t.Fatalf("unread count %d", count.Count)
	}

	if w := s.do(http.MethodGet, "/api/v1/bookings/"+b.ID, s.token("r2", models.RoleRequester), nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger read = %d", w.Code)
	}
}

func TestQuotaOverHTTP(t *testing.T) {
	s := newTestServer(t)
	req := s.token("r1", models.RoleRequester)
	for i := 0; i < 2; i++ {
		if w := s.do(http.MethodPost, "/api/v1/bookings", req, bookingBody(77.209, 28.6139)); w.Code != http.StatusCreated {
			t.Fatalf("create %d = %d", i, w.Code)
		}
	}
	w := s.do(http.MethodPost, "/api/v1/bookings", req, bookingBody(77.209, 28.6139))
	if w.Code != http.StatusTooManyRequests || errorCode(t, w) != "quota_exceeded" {
		t.Fatalf("third create = %d %s", w.Code, w.Body.String())
	}
}
