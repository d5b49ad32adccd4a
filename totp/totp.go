// Package totp derives RFC 6238 time-based one-time codes from a shared
// secret, the second factor brokers ask for at login.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/tradedesk/internal/util"
)

const (
	// Digits is the length of a generated code.
	Digits = 6
	// Period is the time step in seconds.
	Period = 30

	secretBytes = 20
	window      = 1
)

// ErrCodeGeneration is returned when the shared secret is not valid base32.
var ErrCodeGeneration = errors.New("code generation error")

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewSecret returns a fresh random shared secret in unpadded base32.
func NewSecret() (string, error) {
	raw, err := util.RandomBytes(secretBytes)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(raw)
	return encoding.EncodeToString(raw), nil
}

// Generate returns the code for the 30 second step containing at.
func Generate(secret string, at time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(key)
	return codeAt(key, uint64(at.Unix()/Period)), nil
}

// Verify reports whether code matches secret at time at, allowing one step
// of clock skew either way.
func Verify(secret, code string, at time.Time) bool {
	code = normalizeCode(code)
	if !validCode(code) {
		return false
	}
	key, err := decodeSecret(secret)
	if err != nil {
		return false
	}
	defer util.WipeBytes(key)
	counter := at.Unix() / Period
	for i := int64(-window); i <= window; i++ {
		if counter+i < 0 {
			continue
		}
		expected := codeAt(key, uint64(counter+i))
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

// Remaining returns how long the code generated at t stays valid.
func Remaining(at time.Time) time.Duration {
	elapsed := at.Unix() % Period
	return time.Duration(Period-elapsed) * time.Second
}

// ProvisioningURI builds an otpauth:// URI an authenticator app can import.
func ProvisioningURI(secret, issuer, account string) string {
	label := url.PathEscape(issuer + ":" + account)
	values := url.Values{}
	values.Set("secret", secret)
	values.Set("issuer", issuer)
	values.Set("algorithm", "SHA1")
	values.Set("digits", strconv.Itoa(Digits))
	values.Set("period", strconv.Itoa(Period))
	return "otpauth://totp/" + label + "?" + values.Encode()
}

// decodeSecret accepts the forms secrets are usually shared in: any case,
// grouped with spaces or dashes, with or without '=' padding.
func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(secret)
	s = strings.NewReplacer(" ", "", "-", "", "\t", "").Replace(s)
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, fmt.Errorf("%w: empty shared secret", ErrCodeGeneration)
	}
	key, err := encoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: shared secret is not valid base32: %v", ErrCodeGeneration, err)
	}
	return key, nil
}

func codeAt(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)
	offset := sum[len(sum)-1] & 0x0f
	binCode := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)
	return fmt.Sprintf("%06d", binCode%1000000)
}

func normalizeCode(code string) string {
	return strings.TrimSpace(strings.ReplaceAll(code, " ", ""))
}

func validCode(code string) bool {
	if len(code) != Digits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
