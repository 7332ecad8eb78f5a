package handler

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-pay/client/internal/apiclient"
	"github.com/zhouzirui/z-pay/client/internal/handler/web"
	"github.com/zhouzirui/z-pay/client/internal/metrics"
	qrmodel "github.com/zhouzirui/z-pay/client/internal/model/qr"
	"github.com/zhouzirui/z-pay/client/internal/navigation"
	"github.com/zhouzirui/z-pay/client/internal/sandbox"
	authservice "github.com/zhouzirui/z-pay/client/internal/service/auth"
	qrservice "github.com/zhouzirui/z-pay/client/internal/service/qr"
	"github.com/zhouzirui/z-pay/client/internal/session"
	"github.com/zhouzirui/z-pay/client/internal/storage"
)

type portal struct {
	url     string
	client  *http.Client
	store   *session.Store
	backend *sandbox.Service
}

func setupPortal(t *testing.T, hydrate bool) *portal {
	t.Helper()

	fixtures, err := sandbox.DefaultFixtures()
	require.NoError(t, err)
	backend, err := sandbox.NewService(fixtures)
	require.NoError(t, err)
	gateway := httptest.NewServer(sandbox.New(backend).Router())
	t.Cleanup(gateway.Close)

	st := storage.NewMemoryStorage()
	store := session.NewStore(st)
	if hydrate {
		require.NoError(t, store.Hydrate(context.Background()))
	}
	recorder := navigation.NewRecorder()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	api, err := apiclient.New(gateway.URL,
		apiclient.WithTimeout(5*time.Second),
		apiclient.WithStorage(st),
		apiclient.WithSession(store),
		apiclient.WithNavigator(recorder),
		apiclient.WithMetrics(m),
	)
	require.NoError(t, err)
	apiV2, err := apiclient.New(gateway.URL+"/v2", apiclient.WithName("api_v2"), apiclient.WithMetrics(m))
	require.NoError(t, err)

	pages, err := web.NewResponder(store, web.NewFlashes("", false, nil), recorder, nil)
	require.NoError(t, err)

	authSvc := authservice.NewService(api, store, st, nil)
	srv := httptest.NewServer(NewRouter(Deps{
		Sessions: store,
		Auth:     authSvc,
		Account:  authSvc,
		Payments: qrservice.NewService(apiV2, nil),
		Pages:    pages,
		Gatherer: reg,
	}))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &portal{url: srv.URL, client: client, store: store, backend: backend}
}

func (p *portal) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := p.client.Get(p.url + path)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (p *portal) post(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := p.client.PostForm(p.url+path, form)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (p *portal) signIn(t *testing.T) {
	t.Helper()
	resp, _ := p.post(t, "/auth/login", url.Values{"phone": {"+97699000001"}, "password": {"merchant-pass"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/dashboard", resp.Header.Get("Location"))
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestPlaceholderUntilHydrated(t *testing.T) {
	p := setupPortal(t, false)

	resp, body := p.get(t, "/dashboard")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Refresh"))
	assert.NotContains(t, body, "Welcome")

	resp, _ = p.get(t, "/")
	assert.Equal(t, "1", resp.Header.Get("Refresh"))

	p.store.SetHydrated()
	resp, _ = p.get(t, "/dashboard")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/auth/login", resp.Header.Get("Location"))
}

func TestSignInAndDashboard(t *testing.T) {
	p := setupPortal(t, true)
	p.signIn(t)

	resp, body := p.get(t, "/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Welcome, Demo Merchant")
	assert.Contains(t, body, "Welcome back, Demo Merchant.")

	resp, _ = p.get(t, "/")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
}

func TestRevokedSessionRedirectsToLogin(t *testing.T) {
	p := setupPortal(t, true)
	p.signIn(t)

	p.backend.RevokeToken(p.store.Snapshot().Token)

	resp, _ := p.get(t, "/dashboard")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/auth/login", resp.Header.Get("Location"))
	assert.False(t, p.store.Snapshot().IsAuthenticated)

	resp, body := p.get(t, "/auth/login")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Your session has ended")
}

func TestLogout(t *testing.T) {
	p := setupPortal(t, true)
	p.signIn(t)

	resp, _ := p.post(t, "/auth/logout", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/auth/login", resp.Header.Get("Location"))
	assert.False(t, p.store.Snapshot().IsAuthenticated)
}

func TestLoginValidationRendersInline(t *testing.T) {
	p := setupPortal(t, true)

	resp, body := p.post(t, "/auth/login", url.Values{"phone": {" "}, "password": {"x"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "phone is required")
}

func TestLoginRejectedShowsErrorPageWithRetry(t *testing.T) {
	p := setupPortal(t, true)

	resp, body := p.post(t, "/auth/login", url.Values{"phone": {"+97699000001"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "error-BAD_REQUEST")
	assert.Contains(t, body, `name="phone" value="&#43;97699000001"`)
	assert.Contains(t, body, `name="password" type="password"`)
	assert.NotContains(t, body, "wrong")
}

func TestStartRoutesByRegistration(t *testing.T) {
	p := setupPortal(t, true)

	resp, _ := p.post(t, "/auth/start", url.Values{"phone": {"+97699000001"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/auth/login?phone=%2B97699000001", resp.Header.Get("Location"))

	resp, _ = p.post(t, "/auth/start", url.Values{"phone": {"+97611111111"}})
	assert.Equal(t, "/auth/register?phone=%2B97611111111", resp.Header.Get("Location"))
}

func TestRegisterAndVerify(t *testing.T) {
	p := setupPortal(t, true)

	resp, _ := p.post(t, "/auth/register", url.Values{"phone": {"+97611111111"}, "name": {"Tea House"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/auth/verify?phone=%2B97611111111", resp.Header.Get("Location"))

	resp, body := p.get(t, "/auth/verify?phone=%2B97611111111")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "We sent you a verification code.")

	resp, _ = p.post(t, "/auth/verify", url.Values{"phone": {"+97611111111"}, "code": {p.backend.OTPCode()}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
	assert.Equal(t, "Tea House", p.store.Snapshot().User.Name)
}

func TestPasswordPage(t *testing.T) {
	p := setupPortal(t, true)
	p.signIn(t)

	resp, _ := p.post(t, "/dashboard/password", url.Values{"action": {"set"}, "password": {"fresh-pass"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp, body := p.post(t, "/dashboard/password", url.Values{"action": {"check"}, "password": {"fresh-pass"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Password matches.")

	resp, body = p.post(t, "/dashboard/password", url.Values{"action": {"set"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "password is required")
}

func TestCheckout(t *testing.T) {
	p := setupPortal(t, true)

	resp, body := p.get(t, "/pay/lnk_fixed")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "45,000.00 MNT")

	resp, body = p.post(t, "/pay/lnk_open", url.Values{"amount": {"1"}, "method": {"card"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "minimum is 1,000.00 MNT")

	resp, body = p.post(t, "/pay/lnk_fixed", url.Values{"method": {"qpay"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Payment paid")
	assert.Contains(t, body, "45,000.00 MNT")

	resp, body = p.get(t, "/pay/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "error-NOT_FOUND")
	assert.Contains(t, body, `href="/pay/missing"`)
}

func TestCheckoutWaitReturnsOnTerminalStatus(t *testing.T) {
	p := setupPortal(t, true)

	resp, _ := p.get(t, "/pay/lnk_expired/wait")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/pay/lnk_expired", resp.Header.Get("Location"))

	_, body := p.get(t, "/pay/lnk_expired")
	assert.Contains(t, body, "Payment link is now expired.")
}

func TestCheckoutEventsStream(t *testing.T) {
	p := setupPortal(t, true)

	resp, err := p.client.Get(p.url + "/pay/lnk_open/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data: ") {
				return line
			}
		}
	}
	assert.Contains(t, next(), `"status":"pending"`)

	_, err = p.backend.Pay("lnk_open", qrmodel.PayRequest{Amount: 250000, Method: "card"})
	require.NoError(t, err)
	assert.Contains(t, next(), `"status":"paid"`)

	missing, body := p.get(t, "/pay/missing/events")
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	assert.Contains(t, body, `"statusCode":404`)
}

func TestHealthAndMetrics(t *testing.T) {
	p := setupPortal(t, true)
	p.signIn(t)

	resp, body := p.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"hydrated":true`)

	resp, body = p.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(body, "zpay_api_requests_total"), body)
}
