package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Hardhat account #0.
const (
	testKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestSignerAddress(t *testing.T) {
	s, err := NewSignerFromHex(testKey)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), s.Address())

	_, err = NewSignerFromHex("0xzz")
	assert.Error(t, err)
}

func TestRequestMessage(t *testing.T) {
	msg := RequestMessage("post", "/api/offers", 1772366400, []byte(`{}`))
	lines := strings.Split(msg, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "POST", lines[0])
	assert.Equal(t, "/api/offers", lines[1])
	assert.Equal(t, "1772366400", lines[2])
	assert.Len(t, lines[3], 66)
}

func TestSignAndRecover(t *testing.T) {
	s, err := NewSignerFromHex(testKey)
	require.NoError(t, err)
	body := []byte(`{"kind":"sell"}`)

	sig, err := s.SignRequest("POST", "/api/offers", 1772366400, body)
	require.NoError(t, err)
	require.Len(t, sig, 2+130)

	got, err := RecoverRequest("POST", "/api/offers", 1772366400, body, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	// Any change to the signed fields recovers a different address.
	other, err := RecoverRequest("POST", "/api/offers", 1772366401, body, sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)

	other, err = RecoverRequest("POST", "/api/offers", 1772366400, []byte(`{"kind":"buy"}`), sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)

	_, err = RecoverRequest("POST", "/api/offers", 1772366400, body, "0x1234")
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestHeaders(t *testing.T) {
	s, err := NewSignerFromHex(testKey)
	require.NoError(t, err)
	h, err := s.Headers("GET", "/api/orders", 42, nil)
	require.NoError(t, err)
	assert.Equal(t, s.Address().Hex(), h[HeaderAddress])
	assert.Equal(t, "42", h[HeaderTimestamp])
	assert.True(t, strings.HasPrefix(h[HeaderSignature], "0x"))
}

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2")
	require.NoError(t, err)
	assert.Contains(t, string(blob), testAddress)

	key, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, strings.TrimPrefix(testKey, "0x"), KeyHex(key))

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)

	_, err = EncryptKey(testKey, "")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	key, err := LoadKey(KeyConfig{RawPrivateKey: testKey})
	require.NoError(t, err)
	assert.Equal(t, strings.TrimPrefix(testKey, "0x"), KeyHex(key))

	blob, err := EncryptKey(testKey, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	key, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, strings.TrimPrefix(testKey, "0x"), KeyHex(key))

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}
