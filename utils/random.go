package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// RecordIDLength matches the default record id length of the store.
const RecordIDLength = 15

func GenerateCode(n int) (string, error) {
	// Make a slice of nBytes random bytes.
	byt := make([]byte, n)

	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// GenerateID returns a random lowercase alphanumeric id usable as a record id.
func GenerateID(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"

	id := make([]byte, length)
	if _, err := rand.Read(id); err != nil {
		return "", err
	}

	for i := 0; i < length; i++ {
		id[i] = charset[int(id[i])%len(charset)]
	}

	return string(id), nil
}
