package services

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/McFlipperson/Island-Properties-APP-sub000/config"
)

func newTestVault(t *testing.T) CredentialVault {
	t.Helper()

	vault, err := NewCredentialVault(&config.VaultConfig{
		MasterKeyHex:   strings.Repeat("a1", 32),
		KDFIterations:  1000,
		KeyIDPrefix:    "expert_",
		DerivedKeySize: 32,
	})
	require.NoError(t, err)
	return vault
}

func testCredentials() *ProxyCredentials {
	return &ProxyCredentials{
		Host:            "203.0.113.10",
		Port:            8080,
		Username:        "pxuser",
		Password:        "pxpass",
		Protocol:        "http",
		Provider:        "marketplace",
		ProviderProxyID: "pr-100",
		Location:        "Manila",
	}
}

func TestVaultRoundTrip(t *testing.T) {
	vault := newTestVault(t)
	expertUUID := uuid.New().String()

	blob, err := vault.Encrypt(testCredentials(), expertUUID)
	require.NoError(t, err)
	assert.Equal(t, "expert_"+expertUUID, blob.KeyID)
	assert.NotEmpty(t, blob.CipherText)

	iv, err := base64.StdEncoding.DecodeString(blob.IV)
	require.NoError(t, err)
	assert.Len(t, iv, 12)

	tag, err := base64.StdEncoding.DecodeString(blob.AuthTag)
	require.NoError(t, err)
	assert.Len(t, tag, 16)

	decrypted, err := vault.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.10", decrypted.Host)
	assert.Equal(t, 8080, decrypted.Port)
	assert.Equal(t, "pxuser", decrypted.Username)
	assert.Equal(t, "pxpass", decrypted.Password)
	assert.Equal(t, "http", decrypted.Protocol)
}

func TestVaultDecryptSurvivesRestart(t *testing.T) {
	// A blob must be decryptable by a fresh vault instance that never
	// derived the key, using only the key id stored with the blob.
	expertUUID := uuid.New().String()

	blob, err := newTestVault(t).Encrypt(testCredentials(), expertUUID)
	require.NoError(t, err)

	decrypted, err := newTestVault(t).Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "pxuser", decrypted.Username)
}

func TestVaultFreshIVPerEncrypt(t *testing.T) {
	vault := newTestVault(t)
	expertUUID := uuid.New().String()

	first, err := vault.Encrypt(testCredentials(), expertUUID)
	require.NoError(t, err)
	second, err := vault.Encrypt(testCredentials(), expertUUID)
	require.NoError(t, err)

	assert.NotEqual(t, first.IV, second.IV)
	assert.NotEqual(t, first.CipherText, second.CipherText)
}

func TestVaultTamperedCiphertextFailsClosed(t *testing.T) {
	vault := newTestVault(t)

	blob, err := vault.Encrypt(testCredentials(), uuid.New().String())
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob.CipherText)
	require.NoError(t, err)
	raw[0] ^= 0xFF
	blob.CipherText = base64.StdEncoding.EncodeToString(raw)

	_, err = vault.Decrypt(blob)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestVaultTamperedAuthTagFailsClosed(t *testing.T) {
	vault := newTestVault(t)

	blob, err := vault.Encrypt(testCredentials(), uuid.New().String())
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob.AuthTag)
	require.NoError(t, err)
	raw[3] ^= 0x01
	blob.AuthTag = base64.StdEncoding.EncodeToString(raw)

	_, err = vault.Decrypt(blob)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestVaultWrongExpertKeyFailsClosed(t *testing.T) {
	vault := newTestVault(t)

	blob, err := vault.Encrypt(testCredentials(), uuid.New().String())
	require.NoError(t, err)

	// Point the blob at another expert's key.
	blob.KeyID = "expert_" + uuid.New().String()

	_, err = vault.Decrypt(blob)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestVaultKeyIDValidation(t *testing.T) {
	vault := newTestVault(t)

	blob, err := vault.Encrypt(testCredentials(), uuid.New().String())
	require.NoError(t, err)

	blob.KeyID = "other_prefix_" + uuid.New().String()
	_, err = vault.Decrypt(blob)
	assert.ErrorIs(t, err, ErrInvalidKeyID)

	_, err = vault.DeriveKey("")
	assert.ErrorIs(t, err, ErrInvalidKeyID)
}

func TestVaultInvalidBlob(t *testing.T) {
	vault := newTestVault(t)

	_, err := vault.Decrypt(nil)
	assert.ErrorIs(t, err, ErrInvalidBlob)

	blob, err := vault.Encrypt(testCredentials(), uuid.New().String())
	require.NoError(t, err)
	blob.IV = "not base64!!"
	_, err = vault.Decrypt(blob)
	assert.ErrorIs(t, err, ErrInvalidBlob)
}

func TestVaultRejectsInvalidCredentials(t *testing.T) {
	vault := newTestVault(t)

	creds := testCredentials()
	creds.Protocol = "gopher"
	_, err := vault.Encrypt(creds, uuid.New().String())
	assert.Error(t, err)

	creds = testCredentials()
	creds.Port = 0
	_, err = vault.Encrypt(creds, uuid.New().String())
	assert.Error(t, err)

	_, err = vault.Encrypt(nil, uuid.New().String())
	assert.Error(t, err)
}

func TestVaultRotateKey(t *testing.T) {
	vault := newTestVault(t)
	expertUUID := uuid.New().String()

	blob, err := vault.Encrypt(testCredentials(), expertUUID)
	require.NoError(t, err)

	keyID, err := vault.RotateKey(expertUUID)
	require.NoError(t, err)
	assert.Equal(t, blob.KeyID, keyID)

	// Derivation is deterministic, so rotation does not orphan old blobs.
	decrypted, err := vault.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "pxuser", decrypted.Username)
}

func TestVaultRejectsBadMasterKey(t *testing.T) {
	_, err := NewCredentialVault(&config.VaultConfig{
		MasterKeyHex:   "deadbeef",
		KDFIterations:  1000,
		KeyIDPrefix:    "expert_",
		DerivedKeySize: 32,
	})
	assert.Error(t, err)
}
