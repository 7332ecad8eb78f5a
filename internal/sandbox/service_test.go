package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authmodel "github.com/zhouzirui/z-pay/client/internal/model/auth"
	qrmodel "github.com/zhouzirui/z-pay/client/internal/model/qr"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	f, err := DefaultFixtures()
	require.NoError(t, err)
	svc, err := NewService(f)
	require.NoError(t, err)
	return svc
}

func TestSignInWithFixtureUser(t *testing.T) {
	svc := newTestService(t)

	resp, err := svc.SignIn("+97699000001", "merchant-pass")
	require.NoError(t, err)
	assert.Equal(t, "usr_merchant_01", resp.User.ID)
	assert.NotEmpty(t, resp.Token)
	assert.NotEmpty(t, resp.RefreshToken)

	user, ok := svc.UserForToken(resp.Token)
	require.True(t, ok)
	assert.Equal(t, "Demo Merchant", user.Name)

	_, err = svc.SignIn("+97699000001", "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)
	_, err = svc.SignIn("+1000", "merchant-pass")
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestSignUpThenVerify(t *testing.T) {
	svc := newTestService(t)

	assert.False(t, svc.Init("+97688000000").Registered)

	require.NoError(t, svc.SignUp(authmodel.SignUpRequest{Phone: "+97688000000", Name: "New Shop", Password: "secret1"}))
	assert.True(t, svc.Init("+97688000000").OTPSent)

	_, err := svc.VerifyOTP("+97688000000", "000000")
	assert.ErrorIs(t, err, ErrInvalidCode)

	resp, err := svc.VerifyOTP("+97688000000", svc.OTPCode())
	require.NoError(t, err)
	assert.Equal(t, "New Shop", resp.User.Name)
	assert.True(t, svc.Init("+97688000000").Registered)

	_, err = svc.SignIn("+97688000000", "secret1")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.SignUp(authmodel.SignUpRequest{Phone: "+97688000000", Name: "Again"}), ErrUserExists)
	_, err = svc.VerifyOTP("+97600000000", svc.OTPCode())
	assert.ErrorIs(t, err, ErrNoPendingSignUp)
}

func TestPasswordLifecycle(t *testing.T) {
	svc := newTestService(t)
	phone := "+97699000002"

	ok, err := svc.CheckPassword(phone, "admin-pass")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.SetPassword(phone, "rotated"))
	ok, err = svc.CheckPassword(phone, "admin-pass")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, svc.SetPassword("+0", "x"), ErrUserNotFound)
}

func TestRevokeToken(t *testing.T) {
	svc := newTestService(t)
	resp, err := svc.SignIn("+97699000001", "merchant-pass")
	require.NoError(t, err)

	svc.RevokeToken(resp.Token)
	_, ok := svc.UserForToken(resp.Token)
	assert.False(t, ok)
}

func TestPayFixedLink(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Pay("lnk_fixed", qrmodel.PayRequest{Amount: 1, Method: "qpay"})
	assert.ErrorIs(t, err, ErrAmountMismatch)
	_, err = svc.Pay("lnk_fixed", qrmodel.PayRequest{})
	assert.ErrorIs(t, err, ErrMethodRequired)

	result, err := svc.Pay("lnk_fixed", qrmodel.PayRequest{Method: "qpay"})
	require.NoError(t, err)
	assert.Equal(t, int64(4500000), result.Amount)
	assert.Equal(t, qrmodel.StatusPaid, result.Status)

	_, err = svc.Pay("lnk_fixed", qrmodel.PayRequest{Method: "qpay"})
	assert.ErrorIs(t, err, ErrLinkNotPayable)
}

func TestPayOpenLinkBounds(t *testing.T) {
	svc := newTestService(t)

	for _, amount := range []int64{0, 99999, 10000001} {
		_, err := svc.Pay("lnk_open", qrmodel.PayRequest{Amount: amount, Method: "card"})
		assert.ErrorIs(t, err, ErrAmountOutOfRange, "amount %d", amount)
	}

	result, err := svc.Pay("lnk_open", qrmodel.PayRequest{Amount: 250000, Method: "card"})
	require.NoError(t, err)
	assert.Equal(t, int64(250000), result.Amount)
}

func TestLinkExpiresAfterDeadline(t *testing.T) {
	svc := newTestService(t)
	events, cancel, err := svc.Watch("lnk_open")
	require.NoError(t, err)
	defer cancel()

	svc.now = func() time.Time { return time.Now().Add(1000 * time.Hour) }

	link, err := svc.Link("lnk_open")
	require.NoError(t, err)
	assert.Equal(t, qrmodel.StatusExpired, link.Status)

	select {
	case ev := <-events:
		assert.Equal(t, qrmodel.StatusExpired, ev.Status)
	case <-time.After(time.Second):
		t.Fatal("expected expiry event")
	}

	_, err = svc.Pay("lnk_open", qrmodel.PayRequest{Amount: 250000, Method: "card"})
	assert.ErrorIs(t, err, ErrLinkNotPayable)
}

func TestWatchCancelRemovesSubscription(t *testing.T) {
	svc := newTestService(t)
	_, cancel, err := svc.Watch("lnk_fixed")
	require.NoError(t, err)

	cancel()
	cancel()

	svc.mu.RLock()
	assert.Empty(t, svc.watchers)
	svc.mu.RUnlock()

	_, _, err = svc.Watch("missing")
	assert.ErrorIs(t, err, ErrLinkNotFound)
}
