// Package password wraps bcrypt for credential storage and verification.
package password

import "golang.org/x/crypto/bcrypt"

// Cost 12 keeps verification around tens of milliseconds on current
// hardware, slow enough to blunt offline guessing.
const hashCost = 12

func Hash(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), hashCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify returns nil when plain matches the stored hash.
func Verify(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}
