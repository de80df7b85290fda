package keygen

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

// encoding drops padding and lowercase ambiguity so keys stay shell and URL safe.
var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const randomBytes = 10

// LicenseKey builds an opaque license key of the form
// <TYPE-PREFIX>-<ISSUER>-<RANDOM>. The prefix distinguishes the license type,
// the issuer segment encodes who issued the key, and the suffix is 80 bits of
// crypto/rand entropy. Uniqueness is still re-checked against the store by the
// caller inside the inserting transaction.
func LicenseKey(typePrefix, issuerID string) (string, error) {
	if typePrefix == "" {
		return "", fmt.Errorf("keygen: empty type prefix")
	}

	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("keygen: read entropy: %w", err)
	}

	issuer := encoding.EncodeToString([]byte(issuerID))
	if len(issuer) > 12 {
		issuer = issuer[:12]
	}

	return fmt.Sprintf("%s-%s-%s",
		strings.ToUpper(typePrefix),
		issuer,
		encoding.EncodeToString(buf),
	), nil
}

// TypePrefix reports the leading type segment of a license key, or "" when the
// key does not carry one.
func TypePrefix(key string) string {
	idx := strings.IndexByte(key, '-')
	if idx <= 0 {
		return ""
	}
	return key[:idx]
}
