package gate

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/otwarte/ops-oauth2/internal/config"
	"github.com/otwarte/ops-oauth2/internal/cookie"
	"github.com/otwarte/ops-oauth2/internal/idp"
	"github.com/otwarte/ops-oauth2/internal/metrics"
	"github.com/otwarte/ops-oauth2/internal/policy"
	"github.com/otwarte/ops-oauth2/internal/session"
	"github.com/otwarte/ops-oauth2/internal/testutil"
	"github.com/otwarte/ops-oauth2/internal/urlutil"
)

const (
	testUA      = "Mozilla/5.0 (X11; Linux x86_64)"
	permCookie  = "_perm"
	sigCookie   = "_sig"
	redirCookie = "_redir"
)

type fixture struct {
	gate     *Gate
	codec    *session.Codec
	provider *testutil.MockProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Config{
		WhitelistedURLs: config.URLWhitelist{
			"/public":     nil,
			"/api/status": {"GET"},
		},
		Cookie: config.CookieConfig{
			PermissionsName: permCookie,
			SignatureName:   sigCookie,
			RedirectName:    redirCookie,
			Domain:          "example.com",
			TTL:             3600,
		},
	}
	codec := session.NewCodec([]byte("s3cret"))
	provider := &testutil.MockProvider{Name: "google", URL: "https://accounts.example.com/auth"}
	g := New(
		codec,
		policy.New(cfg),
		cookie.NewJar(cfg.Cookie, false),
		map[string]idp.Provider{"google": provider},
		"https://home.example.com/",
		urlutil.RedirectPolicy{Domain: "example.com"},
		metrics.New(),
	)
	return &fixture{gate: g, codec: codec, provider: provider}
}

func verifyRequest(uri, method string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/oauth2/verify", nil)
	req.Header.Set("User-Agent", testUA)
	req.Header.Set(HeaderOriginalURI, uri)
	req.Header.Set(HeaderOriginalMethod, method)
	return req
}

func cookiesOf(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func (f *fixture) withSession(t *testing.T, req *http.Request, ua string) {
	t.Helper()
	cred, err := f.codec.Issue(idp.Identity{Email: "x@good.com", Provider: "google"}, ua)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: permCookie, Value: cred.Permissions})
	req.AddCookie(&http.Cookie{Name: sigCookie, Value: cred.Signature})
}

func TestVerifyWhitelistPrecedence(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := verifyRequest("/public", "DELETE")
		if i == 1 {
			req.AddCookie(&http.Cookie{Name: permCookie, Value: "garbage"})
			req.AddCookie(&http.Cookie{Name: sigCookie, Value: "garbage"})
		}

		decision := f.gate.Verify(rec, req)
		assert.Equal(t, Whitelisted, decision)
		assert.Equal(t, http.StatusOK, decision.Status())
		assert.Empty(t, rec.Result().Cookies())
	}

	rec := httptest.NewRecorder()
	assert.Equal(t, Whitelisted, f.gate.Verify(rec, verifyRequest("/api/status", "get")))

	rec = httptest.NewRecorder()
	assert.Equal(t, MissingCredential, f.gate.Verify(rec, verifyRequest("/api/status", "POST")))
}

func TestVerifyAllowed(t *testing.T) {
	f := newFixture(t)
	req := verifyRequest("/private", "GET")
	f.withSession(t, req, testUA)

	rec := httptest.NewRecorder()
	decision := f.gate.Verify(rec, req)

	assert.Equal(t, Allowed, decision)
	assert.Equal(t, http.StatusOK, decision.Status())
	assert.Empty(t, rec.Result().Cookies())
}

func TestVerifyMissingCredential(t *testing.T) {
	t.Run("without redirect header", func(t *testing.T) {
		f := newFixture(t)
		rec := httptest.NewRecorder()

		decision := f.gate.Verify(rec, verifyRequest("/private", "GET"))
		assert.Equal(t, MissingCredential, decision)
		assert.Equal(t, http.StatusUnauthorized, decision.Status())
		assert.Empty(t, rec.Result().Cookies())
	})

	t.Run("with redirect header", func(t *testing.T) {
		f := newFixture(t)
		req := verifyRequest("/private", "GET")
		req.Header.Set(HeaderRedirect, "/reports")
		rec := httptest.NewRecorder()

		assert.Equal(t, MissingCredential, f.gate.Verify(rec, req))
		require.Contains(t, cookiesOf(rec), redirCookie)
		assert.Equal(t, "/reports", cookiesOf(rec)[redirCookie].Value)
	})

	t.Run("only one cookie present", func(t *testing.T) {
		f := newFixture(t)
		req := verifyRequest("/private", "GET")
		req.AddCookie(&http.Cookie{Name: permCookie, Value: "cGVybXM="})
		rec := httptest.NewRecorder()

		assert.Equal(t, MissingCredential, f.gate.Verify(rec, req))
	})

	t.Run("foreign redirect is not captured", func(t *testing.T) {
		f := newFixture(t)
		req := verifyRequest("/private", "GET")
		req.Header.Set(HeaderRedirect, "https://evil.test/phish")
		rec := httptest.NewRecorder()

		assert.Equal(t, MissingCredential, f.gate.Verify(rec, req))
		assert.NotContains(t, cookiesOf(rec), redirCookie)
	})
}

func TestVerifySignatureInvalidClearsCookies(t *testing.T) {
	f := newFixture(t)
	req := verifyRequest("/private", "GET")
	f.withSession(t, req, "some other browser")
	req.Header.Set(HeaderRedirect, "https://app.example.com/dash")

	rec := httptest.NewRecorder()
	decision := f.gate.Verify(rec, req)

	assert.Equal(t, SignatureInvalid, decision)
	assert.Equal(t, http.StatusUnauthorized, decision.Status())

	cookies := cookiesOf(rec)
	require.Contains(t, cookies, permCookie)
	require.Contains(t, cookies, sigCookie)
	assert.Equal(t, -1, cookies[permCookie].MaxAge)
	assert.Equal(t, -1, cookies[sigCookie].MaxAge)
	assert.Equal(t, "https://app.example.com/dash", cookies[redirCookie].Value)
}

func callbackRequest(query string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/oauth2/google/authorize?"+query, nil)
	req.Header.Set("User-Agent", testUA)
	return req
}

func TestCompleteReplaysRedirect(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	verify := verifyRequest("/reports", "GET")
	verify.Header.Set(HeaderRedirect, "/reports")
	require.Equal(t, MissingCredential, f.gate.Verify(rec, verify))
	redirect := cookiesOf(rec)[redirCookie]
	require.NotNil(t, redirect)

	identity := &idp.Identity{Email: "x@good.com", Provider: "google"}
	f.provider.On("Exchange", mock.Anything, mock.MatchedBy(func(c idp.Credential) bool {
		return c.Code == "abc" && c.UserAgent == testUA
	})).Return(identity, nil).Once()

	req := callbackRequest("code=abc")
	req.AddCookie(redirect)
	rec = httptest.NewRecorder()
	f.gate.Complete(rec, req, f.provider)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/reports", rec.Header().Get("Location"))

	cookies := cookiesOf(rec)
	assert.Equal(t, -1, cookies[redirCookie].MaxAge)
	require.Contains(t, cookies, permCookie)
	assert.Equal(t, 3600, cookies[permCookie].MaxAge)
	assert.True(t, f.codec.Verify(cookies[permCookie].Value, cookies[sigCookie].Value, testUA))
	f.provider.AssertExpectations(t)

	// The follow-up verify succeeds with the new cookies.
	follow := verifyRequest("/reports", "GET")
	follow.AddCookie(cookies[permCookie])
	follow.AddCookie(cookies[sigCookie])
	assert.Equal(t, Allowed, f.gate.Verify(httptest.NewRecorder(), follow))
}

func TestCompleteWithoutRedirectUsesDefault(t *testing.T) {
	f := newFixture(t)
	f.provider.On("Exchange", mock.Anything, mock.Anything).
		Return(&idp.Identity{Email: "x@good.com", Provider: "google"}, nil)

	rec := httptest.NewRecorder()
	f.gate.Complete(rec, callbackRequest("code=abc"), f.provider)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://home.example.com/", rec.Header().Get("Location"))
	assert.NotContains(t, cookiesOf(rec), redirCookie)
}

func TestCompleteIgnoresForgedRedirectCookie(t *testing.T) {
	f := newFixture(t)
	f.provider.On("Exchange", mock.Anything, mock.Anything).
		Return(&idp.Identity{Email: "x@good.com", Provider: "google"}, nil)

	req := callbackRequest("code=abc")
	req.AddCookie(&http.Cookie{Name: redirCookie, Value: "https://evil.test/"})
	rec := httptest.NewRecorder()
	f.gate.Complete(rec, req, f.provider)

	assert.Equal(t, "https://home.example.com/", rec.Header().Get("Location"))
}

func TestCompleteFailures(t *testing.T) {
	tests := []struct {
		name         string
		reason       idp.FailureReason
		wantStatus   int
		wantLocation string
	}{
		{"retry auth", idp.RetryAuth, http.StatusFound, "https://accounts.example.com/auth"},
		{"forbidden", idp.Forbidden, http.StatusForbidden, ""},
		{"expired", idp.Expired, http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.provider.On("Exchange", mock.Anything, mock.Anything).
				Return(nil, &idp.ExchangeFailure{Reason: tt.reason, Err: errors.New("no")})

			req := callbackRequest("code=abc")
			req.AddCookie(&http.Cookie{Name: redirCookie, Value: "/reports"})
			rec := httptest.NewRecorder()
			f.gate.Complete(rec, req, f.provider)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

func TestSignIn(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()

	p, ok := f.gate.Provider("google")
	require.True(t, ok)
	f.gate.SignIn(rec, httptest.NewRequest(http.MethodGet, "/oauth2/google/sign_in", nil), p)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://accounts.example.com/auth", rec.Header().Get("Location"))

	_, ok = f.gate.Provider("github")
	assert.False(t, ok)
}
