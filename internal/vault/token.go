package vault

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// SignatureLength is the fixed length of a stream token signature.
const SignatureLength = 32

// DefaultTokenTTL is how long a minted stream token stays valid unless
// configured otherwise.
const DefaultTokenTTL = time.Hour

// TokenCodec mints and verifies the signed, expiring tokens that authorize
// stream requests. A token is a pure function of (videoID, expiry, secret):
// there is no server-side session or nonce state, so a leaked token stays
// valid until it expires. The signature is an HMAC-SHA256 over
// "videoID:expiresAtMillis", hex-encoded and truncated to SignatureLength.
type TokenCodec struct {
	secret string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenCodec returns a codec bound to the given shared secret and token
// lifetime. If ttl <= 0, DefaultTokenTTL is used.
func NewTokenCodec(secret string, ttl time.Duration) *TokenCodec {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenCodec{secret: secret, ttl: ttl, now: time.Now}
}

// Mint returns a signature and unix-millisecond expiry authorizing streams of
// videoID until the expiry passes. The token is a bearer capability and may
// be used any number of times before then.
func (c *TokenCodec) Mint(videoID string) (signature string, expiresAt int64) {
	expiresAt = c.now().UnixMilli() + c.ttl.Milliseconds()
	return c.sign(videoID, expiresAt), expiresAt
}

// Verify reports whether signature authorizes streaming videoID. It returns
// false on a malformed expiry, an expired token (strictly past expiresAt;
// equal is still valid), or a signature mismatch. It never panics on
// malformed input.
func (c *TokenCodec) Verify(videoID, signature, expires string) bool {
	expiresAt, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	if c.now().UnixMilli() > expiresAt {
		return false
	}
	expected := c.sign(videoID, expiresAt)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *TokenCodec) sign(videoID string, expiresAt int64) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	fmt.Fprintf(mac, "%s:%d", videoID, expiresAt)
	return hex.EncodeToString(mac.Sum(nil))[:SignatureLength]
}
