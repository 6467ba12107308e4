package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"

	"github.com/mosaicnetworks/callrelay/src/common"
)

// Sign signs the data with the identity key (RSA-PSS, SHA-256) and returns the
// std-base64 signature.
func Sign(priv *rsa.PrivateKey, data []byte) (string, error) {
	digest := sha256.Sum256(data)

	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], nil)
	if err != nil {
		return "", common.NewCallErr("keys", common.CryptoError, "sign", err)
	}

	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a signature produced by Sign.
func Verify(pub *rsa.PublicKey, data []byte, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return common.NewCallErr("keys", common.DecodeError, "signature", err)
	}

	digest := sha256.Sum256(data)

	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, nil); err != nil {
		return common.NewCallErr("keys", common.CryptoError, "verify", err)
	}

	return nil
}
