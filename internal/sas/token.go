package sas

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/EternisAI/silo-device/internal/buffer"
)

const (
	// KeyNameRegistration is the skn value DPS expects on registration calls.
	KeyNameRegistration = "registration"

	DefaultValidity = 2 * time.Hour

	prefix = "SharedAccessSignature "

	// stringToSign capacity: encoded resource, newline, expiry digits.
	signBufferSize = buffer.MaxWorkingSize + 32
)

var ErrMalformedToken = errors.New("malformed SAS token")

// Token is a shared access signature. Resource and Signature are kept
// unencoded; Encode applies URL encoding.
type Token struct {
	Resource  string
	Signature string
	// Expiry is in epoch seconds. It is serialized with three extra zero
	// digits because the service compares it against epoch milliseconds.
	Expiry  int64
	KeyName string
}

// Encode serializes the token. It fails when a field exceeds the encoding
// limit instead of emitting it unencoded.
func (t Token) Encode() (string, error) {
	resource, err := urlEncode(t.Resource)
	if err != nil {
		return "", fmt.Errorf("failed to encode resource: %w", err)
	}
	signature, err := urlEncode(t.Signature)
	if err != nil {
		return "", fmt.Errorf("failed to encode signature: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteString("sr=")
	sb.WriteString(resource)
	sb.WriteString("&sig=")
	sb.WriteString(signature)
	sb.WriteString("&se=")
	sb.WriteString(strconv.FormatInt(t.Expiry, 10))
	sb.WriteString("000")
	if t.KeyName != "" {
		sb.WriteString("&skn=")
		sb.WriteString(t.KeyName)
	}
	return sb.String(), nil
}

// String returns the encoded token, or an empty string when it cannot be
// encoded.
func (t Token) String() string {
	s, err := t.Encode()
	if err != nil {
		return ""
	}
	return s
}

// ExpiresAt returns the expiry as a time.
func (t Token) ExpiresAt() time.Time {
	return time.Unix(t.Expiry, 0)
}

// Builder mints SAS tokens that expire Validity after Now.
type Builder struct {
	Validity time.Duration
	Now      func() time.Time
}

func NewBuilder(validity time.Duration) *Builder {
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Builder{Validity: validity, Now: time.Now}
}

// Build signs resourceURI with the base64 encoded key. keyName is appended
// as skn when not empty.
func (b *Builder) Build(resourceURI, base64Key, keyName string) (Token, error) {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	validity := b.Validity
	if validity <= 0 {
		validity = DefaultValidity
	}
	return BuildAt(resourceURI, base64Key, keyName, now().Add(validity).Unix())
}

// BuildAt signs resourceURI with a fixed expiry in epoch seconds.
func BuildAt(resourceURI, base64Key, keyName string, expiry int64) (Token, error) {
	if resourceURI == "" {
		return Token{}, fmt.Errorf("failed to build token: empty resource")
	}

	resource := buffer.FromString(resourceURI)
	if err := resource.URLEncode(); err != nil {
		return Token{}, fmt.Errorf("failed to encode resource: %w", err)
	}

	toSign := buffer.Alloc(signBufferSize)
	if _, err := fmt.Fprintf(toSign, "%s\n%d000", resource.String(), expiry); err != nil {
		return Token{}, fmt.Errorf("failed to build string to sign: %w", err)
	}

	key := buffer.FromString(base64Key)
	if err := key.Base64Decode(); err != nil {
		return Token{}, fmt.Errorf("failed to decode key: %w", err)
	}

	if err := toSign.Hash(key.Bytes()); err != nil {
		return Token{}, fmt.Errorf("failed to sign: %w", err)
	}
	if err := toSign.Base64Encode(); err != nil {
		return Token{}, fmt.Errorf("failed to encode signature: %w", err)
	}

	return Token{
		Resource:  resourceURI,
		Signature: toSign.String(),
		Expiry:    expiry,
		KeyName:   keyName,
	}, nil
}

// Parse reads a token string produced by Token.Encode.
func Parse(s string) (Token, error) {
	if !strings.HasPrefix(s, prefix) {
		return Token{}, fmt.Errorf("%w: missing %q prefix", ErrMalformedToken, strings.TrimSpace(prefix))
	}

	var t Token
	var seen int
	for _, field := range strings.Split(strings.TrimPrefix(s, prefix), "&") {
		name, value, ok := strings.Cut(field, "=")
		if !ok {
			return Token{}, fmt.Errorf("%w: field %q", ErrMalformedToken, field)
		}
		switch name {
		case "sr":
			decoded, err := decode(value)
			if err != nil {
				return Token{}, fmt.Errorf("%w: sr: %v", ErrMalformedToken, err)
			}
			if _, err := urlEncode(decoded); err != nil {
				return Token{}, fmt.Errorf("%w: sr: %v", ErrMalformedToken, err)
			}
			t.Resource = decoded
			seen |= 1
		case "sig":
			decoded, err := decode(value)
			if err != nil {
				return Token{}, fmt.Errorf("%w: sig: %v", ErrMalformedToken, err)
			}
			t.Signature = decoded
			seen |= 2
		case "se":
			ms, ok := strings.CutSuffix(value, "000")
			if !ok {
				return Token{}, fmt.Errorf("%w: se %q", ErrMalformedToken, value)
			}
			expiry, err := strconv.ParseInt(ms, 10, 64)
			if err != nil {
				return Token{}, fmt.Errorf("%w: se: %v", ErrMalformedToken, err)
			}
			t.Expiry = expiry
			seen |= 4
		case "skn":
			t.KeyName = value
		default:
			return Token{}, fmt.Errorf("%w: unknown field %q", ErrMalformedToken, name)
		}
	}
	if seen != 7 {
		return Token{}, fmt.Errorf("%w: sr, sig and se are required", ErrMalformedToken)
	}
	return t, nil
}

func urlEncode(s string) (string, error) {
	b := buffer.FromString(s)
	if err := b.URLEncode(); err != nil {
		return "", err
	}
	return b.String(), nil
}

func decode(s string) (string, error) {
	b := buffer.FromString(s)
	if err := b.URLDecode(); err != nil {
		return "", err
	}
	return b.String(), nil
}
