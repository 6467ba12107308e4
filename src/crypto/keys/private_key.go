package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"

	"github.com/mosaicnetworks/callrelay/src/common"
)

// RSABits is the modulus size of identity keys.
const RSABits = 2048

const privateKeyBlock = "PRIVATE KEY"

// GenerateRSAKey creates a new identity key.
func GenerateRSAKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, RSABits)
}

// PrivateKeyToPEM exports a private key as a pkcs8 PEM block.
func PrivateKeyToPEM(priv *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", err
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: privateKeyBlock, Bytes: der})), nil
}

// PrivateKeyFromPEM imports a pkcs8 PEM block produced by PrivateKeyToPEM.
func PrivateKeyFromPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != privateKeyBlock {
		return nil, common.NewCallErr("keys", common.DecodeError, "no private key PEM block", nil)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, common.NewCallErr("keys", common.DecodeError, "pkcs8", err)
	}

	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, common.NewCallErr("keys", common.DecodeError, "not an RSA private key", nil)
	}

	return priv, nil
}
