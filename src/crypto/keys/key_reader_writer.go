package keys

import (
	"crypto/rsa"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"sync"
)

// KeyReaderWriter reads and writes identity keys from/to any format or support.
type KeyReaderWriter interface {
	ReadKey() (*rsa.PrivateKey, error)
	WriteKey(*rsa.PrivateKey) error
}

// PemKeyfile implements KeyReaderWriter with a pkcs8 PEM file.
type PemKeyfile struct {
	l       sync.Mutex
	keyfile string
}

// NewPemKeyfile instantiates a new PemKeyfile with an underlying file
func NewPemKeyfile(keyfile string) *PemKeyfile {
	return &PemKeyfile{
		keyfile: keyfile,
	}
}

// CheckFileInfo verifies that the file exists and has user permissions only.
func (k *PemKeyfile) CheckFileInfo() error {
	info, err := os.Stat(k.keyfile)
	if err != nil {
		return err
	}

	// get file permissions
	perm := info.Mode().Perm()

	// build 000111111 mask
	var nonUserMask os.FileMode = (1 << 6) - 1

	// get permissions for 'groups' and 'others'
	nonUserPerm := perm & nonUserMask

	if nonUserPerm != 0 {
		return fmt.Errorf("key file permissions should exclude 'groups' and 'others'. Got %o", perm)
	}

	return nil
}

// ReadKey implements KeyReaderWriter.
func (k *PemKeyfile) ReadKey() (*rsa.PrivateKey, error) {
	k.l.Lock()
	defer k.l.Unlock()

	if err := k.CheckFileInfo(); err != nil {
		return nil, err
	}

	buf, err := ioutil.ReadFile(k.keyfile)
	if err != nil {
		return nil, err
	}

	return PrivateKeyFromPEM(buf)
}

// WriteKey implements KeyReaderWriter. The file is created with 0600.
func (k *PemKeyfile) WriteKey(key *rsa.PrivateKey) error {
	k.l.Lock()
	defer k.l.Unlock()

	pem, err := PrivateKeyToPEM(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(path.Dir(k.keyfile), 0700); err != nil {
		return err
	}

	return ioutil.WriteFile(k.keyfile, []byte(pem), 0600)
}
