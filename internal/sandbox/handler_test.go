package sandbox

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authmodel "github.com/zhouzirui/z-pay/client/internal/model/auth"
	qrmodel "github.com/zhouzirui/z-pay/client/internal/model/qr"
	"github.com/zhouzirui/z-pay/client/pkg/utils"
)

func setupServer(t *testing.T, opts ...Option) (*httptest.Server, *Service) {
	t.Helper()
	svc := newTestService(t)
	srv := httptest.NewServer(New(svc, opts...).Router())
	t.Cleanup(srv.Close)
	return srv, svc
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func signIn(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/auth/sign-in", "", authmodel.SignInRequest{Phone: "+97699000001", Password: "merchant-pass"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var session authmodel.SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	return session.Token
}

func TestCheckRequiresBearer(t *testing.T) {
	srv, _ := setupServer(t)

	for _, token := range []string{"", "not-a-token"} {
		resp := doJSON(t, http.MethodGet, srv.URL+"/auth/check", token, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		var body utils.ErrorBody
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, utils.ErrorBody{Message: "Unauthorized", StatusCode: 401}, body)
	}
}

func TestCheckReturnsUser(t *testing.T) {
	srv, _ := setupServer(t)
	token := signIn(t, srv)

	resp := doJSON(t, http.MethodGet, srv.URL+"/auth/check", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var user authmodel.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&user))
	assert.Equal(t, "usr_merchant_01", user.ID)
	assert.Equal(t, "mch_01", user.MerchantID)
}

func TestPasswordEndpoints(t *testing.T) {
	srv, _ := setupServer(t)
	token := signIn(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/auth/password", token, authmodel.PasswordRequest{Password: "abc"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/auth/password", token, authmodel.PasswordRequest{Password: "new-secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/auth/password/check", token, authmodel.PasswordRequest{Password: "new-secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var check authmodel.PasswordCheckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&check))
	assert.True(t, check.Valid)
}

func TestSignInFailureEnvelope(t *testing.T) {
	srv, _ := setupServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/auth/sign-in", "", authmodel.SignInRequest{Phone: "+97699000001", Password: "nope"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body utils.ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, ErrInvalidPassword.Error(), body.Message)
}

func TestVerifyOTPRateLimited(t *testing.T) {
	srv, _ := setupServer(t, WithOTPLimit(time.Hour, 2))
	req := authmodel.VerifyOTPRequest{Phone: "+97699000001", Code: "000000"}

	for i := 0; i < 2; i++ {
		resp := doJSON(t, http.MethodPost, srv.URL+"/auth/verify-otp", "", req)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/auth/verify-otp", "", req)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Other phones keep their own budget.
	resp = doJSON(t, http.MethodPost, srv.URL+"/auth/verify-otp", "", authmodel.VerifyOTPRequest{Phone: "+97699000002", Code: "123456"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestQRRoutesServedUnderV2(t *testing.T) {
	srv, _ := setupServer(t)

	for _, prefix := range []string{"", "/v2"} {
		resp := doJSON(t, http.MethodGet, srv.URL+prefix+"/qr/payment/link/lnk_open", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, prefix)
		var link qrmodel.PaymentLink
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&link))
		assert.Equal(t, qrmodel.StatusPending, link.Status)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/v2/qr/payment/link/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/v2/qr/payment/link/lnk_open", "", qrmodel.PayRequest{Amount: 1, Method: "card"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	srv, _ := setupServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/nope", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body utils.ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 404, body.StatusCode)
}

func TestWatchStreamsUntilPaid(t *testing.T) {
	srv, svc := setupServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v2/qr/payment/link/lnk_fixed/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var ev qrmodel.LinkEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, qrmodel.StatusPending, ev.Status)

	_, err = svc.Pay("lnk_fixed", qrmodel.PayRequest{Method: "qpay"})
	require.NoError(t, err)

	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, qrmodel.StatusPaid, ev.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWatchTerminalLinkClosesImmediately(t *testing.T) {
	srv, _ := setupServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/qr/payment/link/lnk_expired/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var ev qrmodel.LinkEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, qrmodel.StatusExpired, ev.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWatchUnknownLinkIs404(t *testing.T) {
	srv, _ := setupServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/qr/payment/link/missing/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
