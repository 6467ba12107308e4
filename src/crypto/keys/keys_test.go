package keys

import (
	"bytes"
	"io/ioutil"
	"os"
	"path"
	"testing"

	"github.com/mosaicnetworks/callrelay/src/common"
	"github.com/mosaicnetworks/callrelay/src/crypto"
)

func TestPemKeyfile(t *testing.T) {
	dir, err := ioutil.TempDir("", "callrelay")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	keyfile := NewPemKeyfile(path.Join(dir, "priv_key.pem"))

	// Try a read, should get nothing
	key, err := keyfile.ReadKey()
	if err == nil {
		t.Fatalf("ReadKey should generate an error")
	}
	if key != nil {
		t.Fatalf("key is not nil")
	}

	key, err = GenerateRSAKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if err := keyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	nKey, err := keyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !nKey.Equal(key) {
		t.Fatalf("Keys do not match")
	}
}

func TestFilePermissions(t *testing.T) {
	dir, err := ioutil.TempDir("", "callrelay")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	file := path.Join(dir, "priv_key.pem")

	key, _ := GenerateRSAKey()
	pem, _ := PrivateKeyToPEM(key)

	if err := ioutil.WriteFile(file, []byte(pem), 0644); err != nil {
		t.Fatalf("err: %v", err)
	}

	if _, err := NewPemKeyfile(file).ReadKey(); err == nil {
		t.Fatalf("ReadKey should fail on a group-readable file")
	}
}

func TestPublicKeyPEM(t *testing.T) {
	key, _ := GenerateRSAKey()

	pem, err := PublicKeyToPEM(&key.PublicKey)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	pub, err := PublicKeyFromPEM([]byte(pem))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !pub.Equal(&key.PublicKey) {
		t.Fatalf("public keys do not match")
	}

	if Fingerprint(pub) != Fingerprint(&key.PublicKey) {
		t.Fatalf("fingerprints do not match")
	}

	if _, err := PublicKeyFromPEM([]byte("garbage")); !common.IsCall(err, common.DecodeError) {
		t.Fatalf("garbage should produce a DecodeError, got %v", err)
	}
}

func TestWrapSessionKey(t *testing.T) {
	alice, _ := GenerateRSAKey()
	bob, _ := GenerateRSAKey()

	sessionKey, _ := crypto.GenerateSessionKey()

	wrapped, err := WrapSessionKey(&bob.PublicKey, sessionKey)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	unwrapped, err := UnwrapSessionKey(bob, wrapped)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !bytes.Equal(unwrapped, sessionKey) {
		t.Fatalf("session keys do not match")
	}

	if _, err := UnwrapSessionKey(alice, wrapped); !common.IsCall(err, common.CryptoError) {
		t.Fatalf("unwrapping with the wrong key should produce a CryptoError, got %v", err)
	}

	if _, err := UnwrapSessionKey(bob, "%%%"); !common.IsCall(err, common.DecodeError) {
		t.Fatalf("bad base64 should produce a DecodeError, got %v", err)
	}
}

func TestWrapIsPerRecipient(t *testing.T) {
	bob, _ := GenerateRSAKey()
	sessionKey, _ := crypto.GenerateSessionKey()

	a, _ := WrapSessionKey(&bob.PublicKey, sessionKey)
	b, _ := WrapSessionKey(&bob.PublicKey, sessionKey)

	if a == b {
		t.Fatalf("OAEP wraps should be randomized")
	}
}

func TestSignVerify(t *testing.T) {
	key, _ := GenerateRSAKey()
	data := []byte("alice_bob")

	sig, err := Sign(key, data)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if err := Verify(&key.PublicKey, data, sig); err != nil {
		t.Fatalf("err: %v", err)
	}

	if err := Verify(&key.PublicKey, []byte("alice_eve"), sig); !common.IsCall(err, common.CryptoError) {
		t.Fatalf("tampered data should produce a CryptoError, got %v", err)
	}
}
