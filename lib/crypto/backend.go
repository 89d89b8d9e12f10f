package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/ValentinKolb/dMux/rpc/common"
)

// IBackend is the crypto collaborator of the session runtime. Implementations
// must be safe for concurrent use.
type IBackend interface {
	// Name returns the name of the backend
	Name() string
	// Encrypt encrypts data with key and iv
	Encrypt(data, key, iv []byte) ([]byte, error)
	// Decrypt reverses Encrypt
	Decrypt(data, key, iv []byte) ([]byte, error)
	// Hash returns the digest of data
	Hash(data []byte) ([]byte, error)
}

// Backends lists the names accepted by NewBackend
var Backends = []string{"aes-ctr", "none"}

// NewBackend returns the backend with the given name
func NewBackend(name string) (IBackend, error) {
	switch name {
	case "aes-ctr", "":
		return aesCTRBackend{}, nil
	case "none":
		return noneBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown crypto backend %s, must be one of %s", name, strings.Join(Backends, ", "))
	}
}

// --------------------------------------------------------------------------
// AES-CTR
// --------------------------------------------------------------------------

// aesCTRBackend uses AES in counter mode and SHA-256
type aesCTRBackend struct{}

func (aesCTRBackend) Name() string { return "aes-ctr" }

func (b aesCTRBackend) Encrypt(data, key, iv []byte) ([]byte, error) {
	return b.xor(data, key, iv)
}

func (b aesCTRBackend) Decrypt(data, key, iv []byte) ([]byte, error) {
	return b.xor(data, key, iv)
}

func (aesCTRBackend) Hash(data []byte) ([]byte, error) {
	sum := sha256.Sum256(data)
	return sum[:], nil
}

func (aesCTRBackend) xor(data, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("invalid iv length %d, expected %d", len(iv), block.BlockSize())
	}
	out := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(out, data)
	return out, nil
}

// --------------------------------------------------------------------------
// None
// --------------------------------------------------------------------------

// noneBackend is used when no crypto backend is available, every call fails
type noneBackend struct{}

func (noneBackend) Name() string { return "none" }

func (noneBackend) Encrypt(_, _, _ []byte) ([]byte, error) {
	return nil, common.NewError(common.CodeCryptoUnavailable, nil, "no crypto backend")
}

func (noneBackend) Decrypt(_, _, _ []byte) ([]byte, error) {
	return nil, common.NewError(common.CodeCryptoUnavailable, nil, "no crypto backend")
}

func (noneBackend) Hash(_ []byte) ([]byte, error) {
	return nil, common.NewError(common.CodeCryptoUnavailable, nil, "no crypto backend")
}
