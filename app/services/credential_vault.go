// Package services provides external service integrations and technical concerns like encryption and provider clients
package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/pbkdf2"

	"github.com/McFlipperson/Island-Properties-APP-sub000/config"
)

// Vault error constants
var (
	ErrInvalidKeyID     = errors.New("invalid vault key id")
	ErrDecryptionFailed = errors.New("decryption failed or ciphertext tampered")
	ErrInvalidBlob      = errors.New("encrypted blob is malformed")
)

const (
	gcmIVSize  = 12
	gcmTagSize = 16
)

// EncryptedBlob is the storable form of an encrypted credential set.
// All byte fields are Base64. Blobs are immutable; key rotation produces a
// brand-new blob and never rewrites an existing one.
type EncryptedBlob struct {
	CipherText string `json:"cipher_text"`
	IV         string `json:"iv"`
	AuthTag    string `json:"auth_tag"`
	KeyID      string `json:"key_id"`
}

// ProxyCredentials is the plaintext credential set handed to the vault.
// Decryption success alone does not make a blob usable; the decrypted
// struct is validated before it is returned to callers.
type ProxyCredentials struct {
	Host            string `json:"host" validate:"required"`
	Port            int    `json:"port" validate:"required,min=1,max=65535"`
	Username        string `json:"username" validate:"required"`
	Password        string `json:"password" validate:"required"`
	Protocol        string `json:"protocol" validate:"required,oneof=http https socks5"`
	Provider        string `json:"provider,omitempty"`
	ProviderProxyID string `json:"provider_proxy_id,omitempty"`
	Location        string `json:"location,omitempty"`
}

// CredentialVault encrypts and decrypts expert credential sets under
// deterministically derived per-expert keys.
type CredentialVault interface {
	DeriveKey(expertUUID string) (string, error)
	Encrypt(creds *ProxyCredentials, expertUUID string) (*EncryptedBlob, error)
	Decrypt(blob *EncryptedBlob) (*ProxyCredentials, error)
	RotateKey(expertUUID string) (string, error)
}

// CredentialVaultImpl implements CredentialVault
type CredentialVaultImpl struct {
	masterKey   []byte
	iterations  int
	keyIDPrefix string
	keySize     int

	// Derived-key cache. Purely an optimization: keys are deterministic
	// and re-derivable after a restart, so eviction is always safe.
	keyCache sync.Map // keyID -> []byte
	validate *validator.Validate
}

// NewCredentialVault creates a vault from configuration. The master key is
// loaded once here; a missing or wrong-length key is a startup error and
// the process must not run without it.
func NewCredentialVault(cfg *config.VaultConfig) (CredentialVault, error) {
	masterKey, err := cfg.MasterKey()
	if err != nil {
		return nil, fmt.Errorf("vault master key: %w", err)
	}

	return &CredentialVaultImpl{
		masterKey:   masterKey,
		iterations:  cfg.KDFIterations,
		keyIDPrefix: cfg.KeyIDPrefix,
		keySize:     cfg.DerivedKeySize,
		validate:    validator.New(),
	}, nil
}

// DeriveKey derives (or fetches from cache) the expert's symmetric key and
// returns its key id. The id is predictable ("expert_" + expert UUID) so a
// blob can always be decrypted after a process restart by re-deriving.
func (v *CredentialVaultImpl) DeriveKey(expertUUID string) (string, error) {
	if expertUUID == "" {
		return "", ErrInvalidKeyID
	}

	keyID := v.keyIDPrefix + expertUUID
	if _, ok := v.keyCache.Load(keyID); ok {
		return keyID, nil
	}

	key := v.deriveKeyMaterial(expertUUID)
	v.keyCache.Store(keyID, key)
	return keyID, nil
}

func (v *CredentialVaultImpl) deriveKeyMaterial(expertUUID string) []byte {
	salt := []byte("expert-persona:" + expertUUID)
	return pbkdf2.Key(v.masterKey, salt, v.iterations, v.keySize, sha256.New)
}

func (v *CredentialVaultImpl) keyForID(keyID string) ([]byte, error) {
	if !strings.HasPrefix(keyID, v.keyIDPrefix) || len(keyID) == len(v.keyIDPrefix) {
		return nil, ErrInvalidKeyID
	}

	if cached, ok := v.keyCache.Load(keyID); ok {
		return cached.([]byte), nil
	}

	expertUUID := strings.TrimPrefix(keyID, v.keyIDPrefix)
	key := v.deriveKeyMaterial(expertUUID)
	v.keyCache.Store(keyID, key)
	return key, nil
}

// Encrypt serializes the credential set and encrypts it under the expert's
// derived key. A fresh random IV is generated per call; reusing an IV under
// the same key would break GCM entirely.
func (v *CredentialVaultImpl) Encrypt(creds *ProxyCredentials, expertUUID string) (*EncryptedBlob, error) {
	if creds == nil {
		return nil, fmt.Errorf("credentials are nil")
	}
	if err := v.validate.Struct(creds); err != nil {
		return nil, fmt.Errorf("credentials failed validation: %w", err)
	}

	keyID, err := v.DeriveKey(expertUUID)
	if err != nil {
		return nil, err
	}
	key, err := v.keyForID(keyID)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize credentials: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	iv := make([]byte, gcmIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := aesgcm.Seal(nil, iv, plaintext, nil)
	cipherText := sealed[:len(sealed)-gcmTagSize]
	authTag := sealed[len(sealed)-gcmTagSize:]

	return &EncryptedBlob{
		CipherText: base64.StdEncoding.EncodeToString(cipherText),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(authTag),
		KeyID:      keyID,
	}, nil
}

// Decrypt authenticates and decrypts a blob, then structurally validates
// the result. Tampered ciphertext, a wrong key, or an invalid decrypted
// shape all fail closed.
func (v *CredentialVaultImpl) Decrypt(blob *EncryptedBlob) (*ProxyCredentials, error) {
	if blob == nil {
		return nil, ErrInvalidBlob
	}

	key, err := v.keyForID(blob.KeyID)
	if err != nil {
		return nil, err
	}

	cipherText, err := base64.StdEncoding.DecodeString(blob.CipherText)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding", ErrInvalidBlob)
	}
	iv, err := base64.StdEncoding.DecodeString(blob.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: bad IV encoding", ErrInvalidBlob)
	}
	authTag, err := base64.StdEncoding.DecodeString(blob.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("%w: bad auth tag encoding", ErrInvalidBlob)
	}
	if len(iv) != gcmIVSize || len(authTag) != gcmTagSize {
		return nil, ErrInvalidBlob
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	sealed := append(append([]byte{}, cipherText...), authTag...)
	plaintext, err := aesgcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	var creds ProxyCredentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("failed to deserialize credentials: %w", err)
	}
	if err := v.validate.Struct(&creds); err != nil {
		return nil, fmt.Errorf("decrypted credentials failed validation: %w", err)
	}

	return &creds, nil
}

// RotateKey evicts the expert's cached key and re-derives it. Callers are
// responsible for re-encrypting any blob under the new key id before
// discarding old ciphertext.
func (v *CredentialVaultImpl) RotateKey(expertUUID string) (string, error) {
	if expertUUID == "" {
		return "", ErrInvalidKeyID
	}

	keyID := v.keyIDPrefix + expertUUID
	v.keyCache.Delete(keyID)
	return v.DeriveKey(expertUUID)
}
