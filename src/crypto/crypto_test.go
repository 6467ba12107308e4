package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mosaicnetworks/callrelay/src/common"
)

func TestPayloadRoundTrip(t *testing.T) {
	key, err := GenerateSessionKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	plaintexts := [][]byte{
		[]byte(""),
		[]byte(`{"type":"offer","sdp":"v=0"}`),
		bytes.Repeat([]byte("x"), 10000),
	}

	for _, p := range plaintexts {
		ct, err := EncryptPayload(key, p)
		if err != nil {
			t.Fatalf("err: %v", err)
		}

		if strings.ContainsAny(ct, "+/=") {
			t.Fatalf("payload should be unpadded base64url: %s", ct)
		}

		pt, err := DecryptPayload(key, ct)
		if err != nil {
			t.Fatalf("err: %v", err)
		}

		if !bytes.Equal(pt, p) {
			t.Fatalf("plaintexts do not match")
		}
	}
}

func TestPayloadFreshNonce(t *testing.T) {
	key, _ := GenerateSessionKey()

	a, _ := EncryptPayload(key, []byte("same"))
	b, _ := EncryptPayload(key, []byte("same"))

	if a == b {
		t.Fatalf("two encryptions of the same plaintext should differ")
	}
}

func TestDecryptPayloadErrors(t *testing.T) {
	key, _ := GenerateSessionKey()
	other, _ := GenerateSessionKey()

	ct, err := EncryptPayload(key, []byte("hello"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if _, err := DecryptPayload(other, ct); !common.IsCall(err, common.CryptoError) {
		t.Fatalf("wrong key should produce a CryptoError, got %v", err)
	}

	short := EncodeBase64URL([]byte("tooshort"))
	if _, err := DecryptPayload(key, short); !common.IsCall(err, common.DecodeError) {
		t.Fatalf("short blob should produce a DecodeError, got %v", err)
	}

	if _, err := DecryptPayload(key, "0/3:abc"); !common.IsCall(err, common.DecodeError) {
		t.Fatalf("non base64url input should produce a DecodeError, got %v", err)
	}

	blob, _ := DecodeBase64URL(ct)
	blob[len(blob)-1] ^= 0xff
	if _, err := DecryptPayload(key, EncodeBase64URL(blob)); !common.IsCall(err, common.CryptoError) {
		t.Fatalf("tampered blob should produce a CryptoError, got %v", err)
	}
}

func TestDecodeBase64URLPadding(t *testing.T) {
	data := []byte{0xfb, 0xff}

	padded := EncodeBase64URL(data) + "="

	res, err := DecodeBase64URL(padded)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !bytes.Equal(res, data) {
		t.Fatalf("decoded data does not match")
	}
}

func TestSessionKeyExport(t *testing.T) {
	key, _ := GenerateSessionKey()

	imported, err := ImportSessionKey(ExportSessionKey(key))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !bytes.Equal(imported, key) {
		t.Fatalf("keys do not match")
	}

	if _, err := ImportSessionKey(ExportSessionKey([]byte("short"))); !common.IsCall(err, common.CryptoError) {
		t.Fatalf("bad key size should produce a CryptoError, got %v", err)
	}
}
