package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"

	"github.com/mosaicnetworks/callrelay/src/common"
	"github.com/mosaicnetworks/callrelay/src/crypto"
)

// WrapSessionKey encrypts a raw session key for the owner of pub. The wire form
// is std-base64(RSA-OAEP-SHA256(std-base64(rawKey))), which is what browser
// clients of the relay produce.
func WrapSessionKey(pub *rsa.PublicKey, rawKey []byte) (string, error) {
	exported := crypto.ExportSessionKey(rawKey)

	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, []byte(exported), nil)
	if err != nil {
		return "", common.NewCallErr("keys", common.CryptoError, "wrap session key", err)
	}

	return base64.StdEncoding.EncodeToString(ct), nil
}

// UnwrapSessionKey reverses WrapSessionKey with the recipient's private key.
func UnwrapSessionKey(priv *rsa.PrivateKey, wrapped string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, common.NewCallErr("keys", common.DecodeError, "wrapped session key", err)
	}

	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ct, nil)
	if err != nil {
		return nil, common.NewCallErr("keys", common.CryptoError, "unwrap session key", err)
	}

	return crypto.ImportSessionKey(string(pt))
}
