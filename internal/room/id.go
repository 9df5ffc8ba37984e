package room

import (
	"crypto/rand"
	"math/big"
)

const (
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// DefaultIDLength gives 62^7 (about 3.5e12) ids.
	DefaultIDLength = 7
)

// GenerateID returns a random alphanumeric room id of length n.
func GenerateID(n int) (string, error) {
	if n <= 0 {
		n = DefaultIDLength
	}
	b := make([]byte, n)
	for i := range b {
		idx, err := randomIndex(len(alphabet))
		if err != nil {
			return "", err
		}
		b[i] = alphabet[idx]
	}
	return string(b), nil
}

// ValidID reports whether id could have come from GenerateID.
func ValidID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func randomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
