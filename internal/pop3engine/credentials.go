package pop3engine

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/xdg-go/stringprep"
)

// PrepareCredential normalizes a username or password for the wire. When
// utf8Enabled is true (the server advertises UTF8 or UTF8User), the value
// is run through the SASLprep profile (RFC 4013) to reject prohibited code
// points and normalize Unicode before use; otherwise it is passed through
// unchanged (ASCII is its own fixed point under SASLprep, but conforming
// servers without UTF8 should never see a profile applied at all).
func PrepareCredential(value string, utf8Enabled bool) (string, error) {
	if !utf8Enabled {
		return value, nil
	}
	prepared, err := stringprep.SASLprep.Prepare(value)
	if err != nil {
		return "", fmt.Errorf("stringprep: %w", err)
	}
	return prepared, nil
}

// ComposeApopDigest renders the lowercase hex MD5 digest of
// apopToken+password, per RFC 1939 §7. apopToken must include its
// surrounding '<' '>' delimiters, exactly as extracted by ParseGreeting.
func ComposeApopDigest(apopToken, password string) string {
	sum := md5.Sum([]byte(apopToken + password))
	return hex.EncodeToString(sum[:])
}
