package provision

import (
	"fmt"

	"github.com/GehirnInc/crypt"
	_ "github.com/GehirnInc/crypt/sha512_crypt"
)

// PasswordHasher turns plaintext into a salted one-way hash suitable for the
// shadow table. Implementations must salt freshly on every call, so two
// hashes of the same plaintext differ while both still verify.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(hash, plaintext string) error
}

// SHA512CryptHasher produces SHA-512-crypt hashes ($6$...) with a random
// salt per call.
type SHA512CryptHasher struct{}

var _ PasswordHasher = SHA512CryptHasher{}

func (SHA512CryptHasher) Hash(plaintext string) (string, error) {
	if !crypt.SHA512.Available() {
		return "", &Error{Kind: HashUnavailable, Detail: "sha512-crypt not registered"}
	}
	// Empty salt requests a fresh random one.
	hash, err := crypt.SHA512.New().Generate([]byte(plaintext), nil)
	if err != nil {
		return "", &Error{Kind: HashUnavailable, Detail: err.Error()}
	}
	return hash, nil
}

func (SHA512CryptHasher) Verify(hash, plaintext string) error {
	if !crypt.IsHashSupported(hash) {
		return fmt.Errorf("unsupported hash format")
	}
	return crypt.NewFromHash(hash).Verify(hash, []byte(plaintext))
}
