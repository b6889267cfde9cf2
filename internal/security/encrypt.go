package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/fernet/fernet-go"
)

// ErrDecrypt is returned when no configured key opens a ciphertext.
var ErrDecrypt = errors.New("failed to decrypt message payload")

// Encryptor encrypts message content at rest.
// New ciphertexts are AES-256-GCM under a SHA-256 digest of the key.
// Fernet tokens written under the current or a legacy key still decrypt.
type Encryptor struct {
	aead       cipher.AEAD
	fernetKeys []*fernet.Key
}

func NewEncryptor(key []byte, legacyKeys []string) (*Encryptor, error) {
	if len(key) == 0 {
		return nil, errors.New("encryption key must not be empty")
	}
	sum := sha256.Sum256(key)
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	fernetKeys := make([]*fernet.Key, 0, len(legacyKeys)+1)
	if fk := parseFernetKey(string(key)); fk != nil {
		fernetKeys = append(fernetKeys, fk)
	}
	for _, rawKey := range legacyKeys {
		if fk := parseFernetKey(rawKey); fk != nil {
			fernetKeys = append(fernetKeys, fk)
		}
	}

	return &Encryptor{aead: aead, fernetKeys: fernetKeys}, nil
}

func parseFernetKey(raw string) *fernet.Key {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	key, err := fernet.DecodeKey(trimmed)
	if err != nil {
		return nil
	}
	return key
}

func (e *Encryptor) Encrypt(plain string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := e.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (e *Encryptor) Decrypt(enc string) (string, error) {
	if raw, err := base64.StdEncoding.DecodeString(enc); err == nil && len(raw) >= e.aead.NonceSize() {
		ns := e.aead.NonceSize()
		if plain, err := e.aead.Open(nil, raw[:ns], raw[ns:], nil); err == nil {
			return string(plain), nil
		}
	}

	if len(e.fernetKeys) > 0 {
		// ttl 0 disables the age check; stored messages never expire.
		if plain := fernet.VerifyAndDecrypt([]byte(enc), 0, e.fernetKeys); plain != nil {
			return string(plain), nil
		}
	}

	return "", ErrDecrypt
}
