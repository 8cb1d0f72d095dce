// Package fieldcrypt encrypts and decrypts individual sensitive account
// fields. Ciphertext produced locally is AES-256-GCM in a fixed blob layout;
// ciphertext produced by an external key-management service is recognized by
// its prefix and routed back to that service on decrypt.
package fieldcrypt

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Stored blob layout: [salt | nonce | authTag | ciphertext], base64-encoded.
// The salt is stored for layout compatibility and future key versioning; the
// encryption key itself is derived once from the master secret and kdfSalt.
const (
	saltLength  = 32
	nonceLength = 12
	tagLength   = 16
	keyLength   = 32

	// kdfSalt is versioned: bump the suffix when the derivation changes so
	// old blobs remain identifiable.
	kdfSalt = "xplora-encryption-salt-v1"

	// devMasterKey is only ever used outside production deployments.
	devMasterKey = "development-key-change-in-production"
)

var (
	// ErrEncrypt is returned for any encryption failure. The message never
	// carries cipher internals.
	ErrEncrypt = errors.New("fieldcrypt: encryption failed")

	// ErrDecrypt covers every decode failure: bad base64, truncated blob,
	// auth-tag mismatch. Callers must not be able to distinguish them.
	ErrDecrypt = errors.New("fieldcrypt: decryption failed")

	// ErrMissingMasterKey is a startup error: production deployments must
	// configure a master key, there is no per-call fallback.
	ErrMissingMasterKey = errors.New("fieldcrypt: master key is required in production")
)

// Remote is an external encrypt/decrypt oracle (e.g. Vault Transit).
// Remote ciphertext is identified by Prefix so decryption can dispatch
// without any stored state.
type Remote interface {
	Prefix() string
	Healthy(ctx context.Context) bool
	Encrypt(ctx context.Context, plaintext, keyName string) (string, error)
	Decrypt(ctx context.Context, ciphertext, keyName string) (string, error)
}

// Cipher encrypts and decrypts field values. The zero value is not usable;
// construct with New.
type Cipher struct {
	aead    cipher.AEAD
	remotes []Remote
	keyName string

	onFallback func() // metrics hook, may be nil
}

// Option configures a Cipher.
type Option func(*Cipher)

// WithRemote appends a remote oracle to the fallback chain. Remotes are
// tried in the order given; local encryption is always the final fallback.
func WithRemote(r Remote) Option {
	return func(c *Cipher) {
		if r != nil {
			c.remotes = append(c.remotes, r)
		}
	}
}

// WithKeyName sets the logical key name passed to remote oracles.
func WithKeyName(name string) Option {
	return func(c *Cipher) {
		if name != "" {
			c.keyName = name
		}
	}
}

// WithFallbackHook registers a callback invoked whenever a remote oracle
// fails and the call falls back to the local path.
func WithFallbackHook(fn func()) Option {
	return func(c *Cipher) { c.onFallback = fn }
}

// New derives the local encryption key from masterKey and builds the cipher.
// An empty masterKey is fatal when production is true; outside production a
// fixed development key is substituted.
func New(masterKey string, production bool, opts ...Option) (*Cipher, error) {
	masterKey = strings.TrimSpace(masterKey)
	if masterKey == "" {
		if production {
			return nil, ErrMissingMasterKey
		}
		masterKey = devMasterKey
	}

	key, err := scrypt.Key([]byte(masterKey), []byte(kdfSalt), 1<<15, 8, 1, keyLength)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: init gcm: %w", err)
	}

	c := &Cipher{aead: aead, keyName: "customer-data"}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Encrypt encrypts a field value. Remote oracles are tried first when
// configured and healthy; any remote failure falls back to the local path
// within the same call. Empty plaintext stays empty.
func (c *Cipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	for _, r := range c.remotes {
		if !r.Healthy(ctx) {
			c.fellBack()
			continue
		}
		blob, err := r.Encrypt(ctx, plaintext, c.keyName)
		if err == nil && blob != "" {
			return blob, nil
		}
		c.fellBack()
	}
	return c.encryptLocal(plaintext)
}

// Decrypt decrypts a stored blob. Blobs carrying a remote prefix are routed
// to that oracle (after a liveness probe); everything else, and any remote
// failure, uses the local layout.
func (c *Cipher) Decrypt(ctx context.Context, blob string) (string, error) {
	if blob == "" {
		return "", nil
	}
	for _, r := range c.remotes {
		if !strings.HasPrefix(blob, r.Prefix()) {
			continue
		}
		if r.Healthy(ctx) {
			plaintext, err := r.Decrypt(ctx, blob, c.keyName)
			if err == nil {
				return plaintext, nil
			}
		}
		c.fellBack()
	}
	return c.decryptLocal(blob)
}

func (c *Cipher) encryptLocal(plaintext string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", ErrEncrypt
	}
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", ErrEncrypt
	}

	// Seal appends ciphertext||tag; the stored layout wants tag first.
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	if len(sealed) < tagLength {
		return "", ErrEncrypt
	}
	ct, tag := sealed[:len(sealed)-tagLength], sealed[len(sealed)-tagLength:]

	combined := make([]byte, 0, saltLength+nonceLength+tagLength+len(ct))
	combined = append(combined, salt...)
	combined = append(combined, nonce...)
	combined = append(combined, tag...)
	combined = append(combined, ct...)
	return base64.StdEncoding.EncodeToString(combined), nil
}

func (c *Cipher) decryptLocal(blob string) (string, error) {
	combined, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(combined) < saltLength+nonceLength+tagLength {
		return "", ErrDecrypt
	}
	nonce := combined[saltLength : saltLength+nonceLength]
	tag := combined[saltLength+nonceLength : saltLength+nonceLength+tagLength]
	ct := combined[saltLength+nonceLength+tagLength:]

	sealed := make([]byte, 0, len(ct)+tagLength)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

func (c *Cipher) fellBack() {
	if c.onFallback != nil {
		c.onFallback()
	}
}

// GenerateMasterKey produces key material for a new deployment. The result
// goes into XPLORA_ENCRYPTION_MASTER_KEY.
func GenerateMasterKey() (string, error) {
	raw := make([]byte, keyLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
