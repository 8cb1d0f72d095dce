package fieldcrypt

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Mask produces a display-safe rendering of a plaintext value for the given
// field kind. It is a pure function: display contexts use it so that a value
// never reaches the page in full even when the viewer is authorized at
// summary level.
func Mask(value, fieldKind string) string {
	if value == "" {
		return ""
	}
	switch fieldKind {
	case "account_number":
		return "************" + last4(value)
	case "ssn":
		return "***-**-" + last4(value)
	case "email":
		local, domain, ok := strings.Cut(value, "@")
		if !ok || local == "" {
			return "***"
		}
		stars := len(local) - 1
		if stars > 8 {
			stars = 8
		}
		return local[:1] + strings.Repeat("*", stars) + "@" + domain
	case "phone":
		return "***-***-" + last4(value)
	case "balance":
		return "$***,***.**"
	case "address":
		parts := strings.Split(value, ",")
		if len(parts) > 1 {
			return "***, " + strings.TrimSpace(parts[len(parts)-1])
		}
		return "***"
	default:
		return "***"
	}
}

func last4(v string) string {
	if len(v) <= 4 {
		return v
	}
	return v[len(v)-4:]
}

// DedupHash returns a one-way SHA-256 hex digest of a plaintext value, used
// for blind-index columns that support duplicate detection without storing
// cleartext.
func DedupHash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
