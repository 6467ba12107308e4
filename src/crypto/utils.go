package crypto

import (
	"encoding/base64"
	"strings"

	"github.com/mosaicnetworks/callrelay/src/common"
)

// EncodeBase64URL encodes data with the URL-safe alphabet and no padding.
func EncodeBase64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeBase64URL decodes a URL-safe base64 string. Trailing padding is
// tolerated because some senders keep it.
func DecodeBase64URL(s string) ([]byte, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, common.NewCallErr("crypto", common.DecodeError, "base64url", err)
	}
	return data, nil
}
