package sandbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFixtures(t *testing.T) {
	f, err := DefaultFixtures()
	require.NoError(t, err)

	assert.Equal(t, "123456", f.OTPCode)
	require.Len(t, f.Users, 2)
	assert.Equal(t, "+97699000001", f.Users[0].Phone)
	require.Len(t, f.Links, 3)
	assert.Equal(t, 720*time.Hour, f.Links[0].TTL)
	assert.Equal(t, "expired", f.Links[2].Status)
}

func TestLoadFixturesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
otpCode: "9999"
users:
  - id: u1
    phone: "+1"
links:
  - id: l1
    currency: USD
    amount: 500
`), 0o600))

	f, err := LoadFixtures(path)
	require.NoError(t, err)
	assert.Equal(t, "9999", f.OTPCode)
	assert.Equal(t, int64(500), f.Links[0].Amount)

	_, err = LoadFixtures(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParseFixturesValidation(t *testing.T) {
	cases := map[string]string{
		"missing phone":    "users:\n  - id: u1\n",
		"duplicate phone":  "users:\n  - {id: u1, phone: '+1'}\n  - {id: u2, phone: '+1'}\n",
		"missing currency": "links:\n  - id: l1\n",
		"negative amount":  "links:\n  - {id: l1, currency: MNT, amount: -1}\n",
		"not yaml":         "users: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFixtures([]byte(doc))
			require.Error(t, err)
		})
	}
}
