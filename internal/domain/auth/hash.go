package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

const sha256Prefix = "sha256:"

// argon2idParams follow the OWASP minimum: 46 MiB, one pass, one lane.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKey returns an argon2id PHC hash of rawKey with a random salt.
func HashKey(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// Fingerprint returns the hex SHA-256 digest of rawKey. It is used as a
// cache key and for "sha256:" stored hashes, never logged.
func Fingerprint(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// VerifyKey reports whether rawKey matches storedHash.
func VerifyKey(rawKey, storedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(storedHash, "$argon2id$"):
		return compareArgon2id(rawKey, storedHash)
	case strings.HasPrefix(storedHash, sha256Prefix):
		want := strings.TrimPrefix(storedHash, sha256Prefix)
		return subtle.ConstantTimeCompare([]byte(Fingerprint(rawKey)), []byte(want)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// compareArgon2id converts panics from malformed parameters (t=0, p=0)
// into errors.
func compareArgon2id(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}
