package policy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

// claims mirrors the teacher's auth.Claims shape
// (control_plane/auth/jwt.go): tenant/role/issuer/audience/exp/iat/nbf,
// generalized here to a user id plus a set of role tags to match
// spec.md §3's Principal (user_id, roles, token, expiry).
type claims struct {
	UserID    string   `json:"user_id"`
	Roles     []string `json:"roles"`
	Issuer    string   `json:"iss"`
	Audience  string   `json:"aud"`
	ExpiresAt int64    `json:"exp"`
	IssuedAt  int64    `json:"iat"`
}

// HMACVerifier is the default Verifier: an HMAC-SHA256 signed,
// base64url-encoded token, the same header.claims.signature shape as the
// teacher's GenerateToken/ValidateToken (control_plane/auth/jwt.go),
// generalized from single tenant+role fields to a role set.
type HMACVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewHMACVerifier returns a Verifier using secret to check signatures.
// issuer/audience are checked against the claims exactly as the teacher
// does (reject on mismatch).
func NewHMACVerifier(secret []byte, issuer, audience string) *HMACVerifier {
	return &HMACVerifier{secret: secret, issuer: issuer, audience: audience}
}

// IssueToken mints a signed token for userID with the given roles and TTL,
// mirroring the teacher's GenerateToken.
func (v *HMACVerifier) IssueToken(userID string, roles []string, ttl time.Duration, now time.Time) string {
	c := claims{
		UserID:    userID,
		Roles:     roles,
		Issuer:    v.issuer,
		Audience:  v.audience,
		ExpiresAt: now.Add(ttl).Unix(),
		IssuedAt:  now.Unix(),
	}
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, _ := json.Marshal(header)
	claimsJSON, _ := json.Marshal(c)

	tokenPart := b64Encode(headerJSON) + "." + b64Encode(claimsJSON)
	return tokenPart + "." + v.sign(tokenPart)
}

// Verify parses and validates the token, returning the derived Principal.
func (v *HMACVerifier) Verify(token string) (*taskmodel.Principal, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("policy: invalid token format")
	}

	tokenPart := parts[0] + "." + parts[1]
	if v.sign(tokenPart) != parts[2] {
		return nil, errors.New("policy: invalid signature")
	}

	claimsJSON, err := b64Decode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("policy: failed to decode claims: %w", err)
	}
	var c claims
	if err := json.Unmarshal(claimsJSON, &c); err != nil {
		return nil, fmt.Errorf("policy: failed to unmarshal claims: %w", err)
	}

	if c.Issuer != v.issuer {
		return nil, errors.New("policy: invalid issuer")
	}
	if c.Audience != v.audience {
		return nil, errors.New("policy: invalid audience")
	}

	roles := make(map[string]struct{}, len(c.Roles))
	for _, r := range c.Roles {
		roles[r] = struct{}{}
	}

	return &taskmodel.Principal{
		UserID:    c.UserID,
		Roles:     roles,
		Token:     token,
		ExpiresAt: time.Unix(c.ExpiresAt, 0),
	}, nil
}

func (v *HMACVerifier) sign(message string) string {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(message))
	return b64Encode(h.Sum(nil))
}

func b64Encode(data []byte) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(data), "=")
}

func b64Decode(data string) ([]byte, error) {
	if l := len(data) % 4; l > 0 {
		data += strings.Repeat("=", 4-l)
	}
	return base64.URLEncoding.DecodeString(data)
}
