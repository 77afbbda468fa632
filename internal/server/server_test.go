package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/otwarte/ops-oauth2/internal/config"
	"github.com/otwarte/ops-oauth2/internal/cookie"
	"github.com/otwarte/ops-oauth2/internal/crypto"
	"github.com/otwarte/ops-oauth2/internal/gate"
	"github.com/otwarte/ops-oauth2/internal/idp"
	"github.com/otwarte/ops-oauth2/internal/metrics"
	"github.com/otwarte/ops-oauth2/internal/policy"
	"github.com/otwarte/ops-oauth2/internal/session"
	"github.com/otwarte/ops-oauth2/internal/testutil"
	"github.com/otwarte/ops-oauth2/internal/urlutil"
)

var testCSRF = crypto.NewCSRFProtection([]byte("csrf-key"), time.Minute)

func newTestRouter(t *testing.T, links MagicLinkIssuer) (http.Handler, *metrics.Metrics) {
	t.Helper()
	cfg := config.Config{
		WhitelistedURLs: config.URLWhitelist{"/public": nil},
		Cookie: config.CookieConfig{
			PermissionsName: "_perm",
			SignatureName:   "_sig",
			RedirectName:    "_redir",
			Domain:          "example.com",
			TTL:             3600,
		},
	}
	google := &testutil.MockProvider{Name: "google", URL: "https://accounts.example.com/auth"}
	google.On("Exchange", mock.Anything, mock.Anything).
		Return(&idp.Identity{Email: "x@good.com", Provider: "google"}, nil).Maybe()
	slack := &testutil.MockProvider{Name: "slack", URL: "https://slack.example.com/auth"}
	slack.On("Exchange", mock.Anything, mock.Anything).
		Return(nil, &idp.ExchangeFailure{Reason: idp.Forbidden, Err: errors.New("team")}).Maybe()

	providers := map[string]idp.Provider{"google": google, "slack": slack}
	m := metrics.New()
	g := gate.New(
		session.NewCodec([]byte("s3cret")),
		policy.New(cfg),
		cookie.NewJar(cfg.Cookie, false),
		providers,
		"https://home.example.com/",
		urlutil.RedirectPolicy{Domain: "example.com"},
		m,
	)
	return NewRouter(NewHandlers(g, links, testCSRF), m), m
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])

	_, err := uuid.Parse(w.Header().Get(HeaderRequestID))
	assert.NoError(t, err)
}

func TestRequestIDIsEchoed(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, "abc-123")

	assert.Equal(t, "abc-123", serve(router, req).Header().Get(HeaderRequestID))
}

func TestVerifyEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/oauth2/verify", nil)
	req.Header.Set(gate.HeaderOriginalURI, "/public")
	req.Header.Set(gate.HeaderOriginalMethod, "GET")
	w := serve(router, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/oauth2/verify", nil)
	req.Header.Set(gate.HeaderOriginalURI, "/private")
	req.Header.Set(gate.HeaderRedirect, "/reports")
	w = serve(router, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "_redir=/reports")
}

func TestProviderRoutes(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/oauth2/google/sign_in", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://accounts.example.com/auth", w.Header().Get("Location"))

	w = serve(router, httptest.NewRequest(http.MethodGet, "/oauth2/github/sign_in", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/oauth2/github/authorize?code=x", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/oauth2/google/authorize?code=x", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://home.example.com/", w.Header().Get("Location"))

	w = serve(router, httptest.NewRequest(http.MethodGet, "/oauth2/slack/authorize?code=x", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Result().Cookies())
}

func postEmail(t *testing.T, address string) *http.Request {
	t.Helper()
	token, err := testCSRF.Generate()
	require.NoError(t, err)
	return postEmailForm(url.Values{"email": {address}, "csrf_token": {token}})
}

func postEmailForm(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/oauth2/email/generate", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "test-browser")
	return req
}

func TestEmailGenerate(t *testing.T) {
	links := &testutil.MockMagicLinkIssuer{}
	links.On("Generate", mock.Anything, "bob@example.com", "test-browser").Return(nil)
	links.On("Generate", mock.Anything, "mallory@example.com", mock.Anything).
		Return(&idp.ExchangeFailure{Reason: idp.Forbidden, Err: errors.New("not listed")})
	links.On("Generate", mock.Anything, "carol@example.com", mock.Anything).
		Return(errors.New("smtp send: connection refused"))
	router, _ := newTestRouter(t, links)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/oauth2/email/generate", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `name="email"`)
	assert.Contains(t, w.Body.String(), `name="csrf_token"`)

	w = serve(router, postEmail(t, "bob@example.com"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Check your inbox")

	w = serve(router, postEmail(t, "mallory@example.com"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(router, postEmail(t, "carol@example.com"))
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = serve(router, postEmail(t, ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	links.AssertExpectations(t)
}

func TestEmailGenerateRequiresCSRFToken(t *testing.T) {
	links := &testutil.MockMagicLinkIssuer{}
	router, _ := newTestRouter(t, links)

	w := serve(router, postEmailForm(url.Values{"email": {"bob@example.com"}}))
	assert.Equal(t, http.StatusForbidden, w.Code)

	forged := crypto.NewCSRFProtection([]byte("attacker"), time.Minute)
	token, err := forged.Generate()
	require.NoError(t, err)
	w = serve(router, postEmailForm(url.Values{"email": {"bob@example.com"}, "csrf_token": {token}}))
	assert.Equal(t, http.StatusForbidden, w.Code)

	links.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestEmailRoutesDisabled(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/oauth2/email/generate", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(router, postEmail(t, "bob@example.com"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	serve(router, httptest.NewRequest(http.MethodGet, "/oauth2/verify", nil))

	w := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `route="/oauth2/verify"`)
	assert.Contains(t, w.Body.String(), `ops_oauth2_verify_decisions_total{decision="missing_credential"} 1`)
}

func TestRecoverMiddleware(t *testing.T) {
	handler := ChainMiddleware(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
		NewRecoverMiddleware("test"),
		NewRequestIDMiddleware(),
	)

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestLoggerMiddlewareKeepsStatus(t *testing.T) {
	handler := ChainMiddleware(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("short and stout"))
		}),
		NewLoggerMiddleware("test"),
	)

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "short and stout", w.Body.String())
}
