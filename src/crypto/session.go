package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/mosaicnetworks/callrelay/src/common"
)

const (
	// SessionKeySize is the size in bytes of a call session key (AES-256).
	SessionKeySize = 32

	// NonceSize is the size of the random GCM nonce prefixed to every payload.
	NonceSize = 12
)

// GenerateSessionKey returns a fresh random AES-256 key.
func GenerateSessionKey() ([]byte, error) {
	key := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, common.NewCallErr("crypto", common.CryptoError, "generate session key", err)
	}
	return key, nil
}

// ExportSessionKey returns the cacheable, std-base64 form of a raw key. This is
// also the form held by the relay as group key material.
func ExportSessionKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// ImportSessionKey parses the output of ExportSessionKey.
func ImportSessionKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, common.NewCallErr("crypto", common.DecodeError, "import session key", err)
	}
	if err := checkKeySize(key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncryptPayload seals plaintext with the session key and returns
// base64url(nonce || ciphertext). A new random nonce is drawn on every call.
func EncryptPayload(key []byte, plaintext []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", common.NewCallErr("crypto", common.CryptoError, "nonce", err)
	}

	blob := gcm.Seal(nonce, nonce, plaintext, nil)

	return EncodeBase64URL(blob), nil
}

// DecryptPayload reverses EncryptPayload. It returns a DecodeError if the blob
// is not base64url or is shorter than the nonce, and a CryptoError if
// authentication fails.
func DecryptPayload(key []byte, payload string) ([]byte, error) {
	blob, err := DecodeBase64URL(payload)
	if err != nil {
		return nil, err
	}

	if len(blob) < NonceSize {
		return nil, common.NewCallErr("crypto", common.DecodeError, "payload shorter than nonce", nil)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return nil, common.NewCallErr("crypto", common.CryptoError, "open payload", err)
	}

	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if err := checkKeySize(key); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, common.NewCallErr("crypto", common.CryptoError, "aes", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, common.NewCallErr("crypto", common.CryptoError, "gcm", err)
	}

	return gcm, nil
}

func checkKeySize(key []byte) error {
	switch len(key) {
	case 16, 24, 32:
		return nil
	default:
		return common.NewCallErr("crypto", common.CryptoError, "invalid session key size", nil)
	}
}
