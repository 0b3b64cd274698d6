package authcode

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// VerifyPKCE checks a presented verifier against the challenge the code was
// bound to at issuance. For S256 the challenge is the unpadded base64url form
// of the verifier's SHA-256 digest; for plain the verifier itself. Comparison
// is constant time.
func VerifyPKCE(verifier, challenge string, method ChallengeMethod) error {
	if verifier == "" || challenge == "" {
		return ErrPKCEFailed
	}
	var derived string
	switch method {
	case MethodS256:
		sum := sha256.Sum256([]byte(verifier))
		derived = base64.RawURLEncoding.EncodeToString(sum[:])
	case MethodPlain:
		derived = verifier
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrPKCEFailed, method)
	}
	if subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) != 1 {
		return ErrPKCEFailed
	}
	return nil
}
