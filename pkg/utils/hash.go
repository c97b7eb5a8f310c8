package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// Fingerprint is the stable identity of an indexed record: the hash of "<kind>:<key>".
// It returns "" when the key is blank so callers can drop orphaned records.
func Fingerprint(kind, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return HashString(kind + ":" + key)
}
