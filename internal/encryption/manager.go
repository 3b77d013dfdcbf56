package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/config"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const (
	localKeyID = "local"

	// dataKeyTTL is how long one data key encrypts new values.
	dataKeyTTL = 15 * time.Minute
	// maxCachedKeys bounds the plaintext data keys held for decryption.
	maxCachedKeys = 64
)

// EncryptedData is an envelope-encrypted value together with its wrapped data key.
type EncryptedData struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// KMSAPI is the subset of the KMS client used for envelope encryption.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// EncryptionManager encrypts phone numbers attached to auth events. One data
// key is reused for dataKeyTTL before a new one is generated. With KMS
// disabled, data keys are generated locally and "wrapped" by base64 only;
// that mode exists for development and tests.
type EncryptionManager struct {
	kmsClient KMSAPI
	keyID     string
	useKMS    bool
	now       func() time.Time

	mu         sync.Mutex
	active     *DataKey
	activeDEK  string // base64 of active.Ciphertext
	expiresAt  time.Time
	keyCache   map[string][]byte // wrapped DEK -> plaintext DEK
	cacheOrder []string          // insertion order, oldest first
}

type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

func NewEncryptionManager(cfg *config.Config, kmsClient KMSAPI) *EncryptionManager {
	return &EncryptionManager{
		kmsClient: kmsClient,
		keyID:     cfg.KMS.KeyID,
		useKMS:    cfg.KMS.Enabled && kmsClient != nil,
		now:       time.Now,
		keyCache:  make(map[string][]byte),
	}
}

// GenerateDataKey generates a new AES-256 data encryption key
func (em *EncryptionManager) GenerateDataKey(ctx context.Context) (*DataKey, error) {
	if !em.useKMS {
		return em.generateLocalKey()
	}

	result, err := em.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(em.keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &DataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      aws.ToString(result.KeyId),
	}, nil
}

func (em *EncryptionManager) generateLocalKey() (*DataKey, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate local key: %w", err)
	}
	return &DataKey{
		Plaintext:  key,
		Ciphertext: []byte(base64.StdEncoding.EncodeToString(key)),
		KeyID:      localKeyID,
	}, nil
}

// activeKey returns the current data key, generating a new one once the
// previous one has expired.
func (em *EncryptionManager) activeKey(ctx context.Context) (*DataKey, string, error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	if em.active != nil && em.now().Before(em.expiresAt) {
		return em.active, em.activeDEK, nil
	}

	dataKey, err := em.GenerateDataKey(ctx)
	if err != nil {
		return nil, "", err
	}
	wrapped := base64.StdEncoding.EncodeToString(dataKey.Ciphertext)
	em.active = dataKey
	em.activeDEK = wrapped
	em.expiresAt = em.now().Add(dataKeyTTL)
	em.cacheKeyLocked(wrapped, dataKey.Plaintext)
	return dataKey, wrapped, nil
}

// EncryptField encrypts plaintext with the active data key using AES-GCM.
func (em *EncryptionManager) EncryptField(ctx context.Context, plaintext string) (*EncryptedData, error) {
	dataKey, wrapped, err := em.activeKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	gcm, err := newGCM(dataKey.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   wrapped,
		KeyID:          dataKey.KeyID,
		Version:        "v1",
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// DecryptField reverses EncryptField.
func (em *EncryptionManager) DecryptField(ctx context.Context, data *EncryptedData) (string, error) {
	if cached, ok := em.cachedKey(data.EncryptedDEK); ok {
		return decryptWithKey(data.EncryptedValue, cached)
	}

	wrapped, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
	if err != nil {
		return "", fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}

	var plaintextDEK []byte
	if data.KeyID == localKeyID {
		plaintextDEK, err = base64.StdEncoding.DecodeString(string(wrapped))
		if err != nil {
			return "", fmt.Errorf("%w: invalid local DEK", ErrDecryptionFailed)
		}
	} else {
		if em.kmsClient == nil {
			return "", fmt.Errorf("%w: KMS client not configured", ErrDecryptionFailed)
		}
		result, err := em.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: wrapped})
		if err != nil {
			return "", fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		plaintextDEK = result.Plaintext
	}

	em.mu.Lock()
	em.cacheKeyLocked(data.EncryptedDEK, plaintextDEK)
	em.mu.Unlock()
	return decryptWithKey(data.EncryptedValue, plaintextDEK)
}

func decryptWithKey(encryptedValue string, key []byte) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (em *EncryptionManager) cachedKey(wrapped string) ([]byte, bool) {
	em.mu.Lock()
	defer em.mu.Unlock()
	key, ok := em.keyCache[wrapped]
	return key, ok
}

// cacheKeyLocked stores a plaintext key, evicting the oldest entries beyond
// maxCachedKeys. The caller holds em.mu.
func (em *EncryptionManager) cacheKeyLocked(wrapped string, plaintext []byte) {
	if _, ok := em.keyCache[wrapped]; ok {
		return
	}
	em.keyCache[wrapped] = plaintext
	em.cacheOrder = append(em.cacheOrder, wrapped)
	for len(em.cacheOrder) > maxCachedKeys {
		oldest := em.cacheOrder[0]
		em.cacheOrder = em.cacheOrder[1:]
		if oldest == em.activeDEK {
			// The active key stays cached; requeue it as the newest entry.
			em.cacheOrder = append(em.cacheOrder, oldest)
			continue
		}
		delete(em.keyCache, oldest)
	}
}

// ClearCache drops cached plaintext data keys, including the active one
func (em *EncryptionManager) ClearCache() {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.keyCache = make(map[string][]byte)
	em.cacheOrder = nil
	em.active = nil
	em.activeDEK = ""
}

// GetCacheSize returns the number of cached DEKs
func (em *EncryptionManager) GetCacheSize() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	return len(em.keyCache)
}
