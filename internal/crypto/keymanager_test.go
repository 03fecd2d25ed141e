package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPEM(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return key, pem.EncodeToMemory(block)
}

// TestEncryptDecryptRoundTrip verifies a key survives the at-rest cycle intact.
func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, pemBytes := testKeyPEM(t)

	blob, err := EncryptKeyPEM(pemBytes, "correct horse")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "RSA PRIVATE KEY")

	out, err := DecryptKeyPEM(blob, "correct horse")
	require.NoError(t, err)

	parsed, err := ParseRSAPrivateKey(out)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))
}

// TestDecryptWrongPassword verifies GCM authentication rejects a bad password.
func TestDecryptWrongPassword(t *testing.T) {
	_, pemBytes := testKeyPEM(t)

	blob, err := EncryptKeyPEM(pemBytes, "right")
	require.NoError(t, err)

	_, err = DecryptKeyPEM(blob, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decryption failed")
}

// TestParseRSAPrivateKey_PKCS8 verifies the modern block type is accepted.
func TestParseRSAPrivateKey_PKCS8(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	parsed, err := ParseRSAPrivateKey(pemBytes)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))
}

// TestParseRSAPrivateKey_Garbage verifies non-PEM input is rejected.
func TestParseRSAPrivateKey_Garbage(t *testing.T) {
	_, err := ParseRSAPrivateKey([]byte("not a key"))
	assert.Error(t, err)
}

// TestLoadKey_PlaintextPrecedence verifies the plaintext path wins when both
// sources are configured.
func TestLoadKey_PlaintextPrecedence(t *testing.T) {
	key, pemBytes := testKeyPEM(t)

	dir := t.TempDir()
	plainPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(plainPath, pemBytes, 0o600))

	_, otherPEM := testKeyPEM(t)
	blob, err := EncryptKeyPEM(otherPEM, "pw")
	require.NoError(t, err)
	encPath := filepath.Join(dir, "key.enc.json")
	require.NoError(t, os.WriteFile(encPath, blob, 0o600))

	loaded, err := LoadKey(KeyConfig{
		PrivateKeyPath:   plainPath,
		EncryptedKeyPath: encPath,
		KeyPassword:      "pw",
	})
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))
}

// TestLoadKey_Encrypted verifies the encrypted fallback path.
func TestLoadKey_Encrypted(t *testing.T) {
	key, pemBytes := testKeyPEM(t)

	blob, err := EncryptKeyPEM(pemBytes, "pw")
	require.NoError(t, err)
	encPath := filepath.Join(t.TempDir(), "key.enc.json")
	require.NoError(t, os.WriteFile(encPath, blob, 0o600))

	loaded, err := LoadKey(KeyConfig{EncryptedKeyPath: encPath, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))
}

// TestLoadKey_NoSource verifies the empty config error.
func TestLoadKey_NoSource(t *testing.T) {
	_, err := LoadKey(KeyConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no private key source")
}
