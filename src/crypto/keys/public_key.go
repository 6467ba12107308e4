package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/mosaicnetworks/callrelay/src/common"
	"github.com/mosaicnetworks/callrelay/src/crypto"
)

const publicKeyBlock = "PUBLIC KEY"

// PublicKeyToPEM exports a public key as an spki PEM block.
func PublicKeyToPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: publicKeyBlock, Bytes: der})), nil
}

// PublicKeyFromPEM imports an spki PEM block.
func PublicKeyFromPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != publicKeyBlock {
		return nil, common.NewCallErr("keys", common.DecodeError, "no public key PEM block", nil)
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, common.NewCallErr("keys", common.DecodeError, "spki", err)
	}

	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, common.NewCallErr("keys", common.DecodeError, "not an RSA public key", nil)
	}

	return pub, nil
}

// Fingerprint returns a short hex digest of the public key, for logs.
func Fingerprint(pub *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%X", crypto.SHA256(der)[:8])
}
