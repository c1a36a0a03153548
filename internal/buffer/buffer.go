package buffer

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// MaxWorkingSize bounds the output of URL encoding. Callers that encode
// long inputs must split them or size their data accordingly.
const MaxWorkingSize = 512

var (
	ErrLengthExceedsCapacity = errors.New("length exceeds buffer capacity")
	ErrBufferFull            = errors.New("buffer full")
	ErrWorkingLimit          = errors.New("encoded result exceeds working limit")
	ErrMalformedEscape       = errors.New("malformed percent escape")
	ErrMalformedBase64       = errors.New("malformed base64 input")
	ErrEmptyKey              = errors.New("hash key is empty")
)

const upperHex = "0123456789ABCDEF"

// Buffer owns a byte region with a logical length that never exceeds its
// capacity. Every transform either completes and updates the length or
// leaves the buffer exactly as it was.
type Buffer struct {
	data   []byte
	length int
}

// Alloc returns an empty buffer with the given capacity.
func Alloc(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, capacity)}
}

// FromBytes returns a buffer holding a copy of b.
func FromBytes(b []byte) *Buffer {
	buf := Alloc(len(b))
	copy(buf.data, b)
	buf.length = len(b)
	return buf
}

func FromString(s string) *Buffer {
	buf := Alloc(len(s))
	copy(buf.data, s)
	buf.length = len(s)
	return buf
}

func (b *Buffer) Len() int { return b.length }
func (b *Buffer) Cap() int { return len(b.data) }

// Bytes returns the logical content. The slice aliases the buffer and is
// only valid until the next mutating call.
func (b *Buffer) Bytes() []byte { return b.data[:b.length] }

func (b *Buffer) String() string { return string(b.data[:b.length]) }

// View returns a borrowed read-only view over the current content.
func (b *Buffer) View() View { return View{b: b.data[:b.length]} }

func (b *Buffer) Reset() { b.length = 0 }

// SetLength moves the logical end of the buffer without reallocating.
func (b *Buffer) SetLength(n int) error {
	if n < 0 || n > len(b.data) {
		return fmt.Errorf("%w: requested %d, capacity %d", ErrLengthExceedsCapacity, n, len(b.data))
	}
	b.length = n
	return nil
}

// Set overwrites the byte at index i, which must be inside the logical length.
func (b *Buffer) Set(i int, c byte) error {
	if i < 0 || i >= b.length {
		return fmt.Errorf("%w: index %d, length %d", ErrLengthExceedsCapacity, i, b.length)
	}
	b.data[i] = c
	return nil
}

// Write appends p. The write is all or nothing: if p does not fit in the
// remaining capacity nothing is copied and ErrBufferFull is returned.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.length+len(p) > len(b.data) {
		return 0, fmt.Errorf("%w: need %d bytes, %d available", ErrBufferFull, len(p), len(b.data)-b.length)
	}
	copy(b.data[b.length:], p)
	b.length += len(p)
	return len(p), nil
}

func (b *Buffer) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}

func (b *Buffer) IndexOf(needle []byte, start int) int {
	return indexOf(b.Bytes(), needle, start)
}

func (b *Buffer) StartsWith(prefix []byte) bool {
	return bytes.HasPrefix(b.Bytes(), prefix)
}

// replace swaps in new content, growing the storage if needed.
func (b *Buffer) replace(content []byte) {
	if len(content) > len(b.data) {
		b.data = make([]byte, len(content))
	}
	copy(b.data, content)
	b.length = len(content)
}

// URLEncode percent-encodes the content per RFC 3986. Unreserved characters
// pass through, everything else becomes %XX with uppercase hex digits.
func (b *Buffer) URLEncode() error {
	src := b.Bytes()

	size := 0
	for _, c := range src {
		if isUnreserved(c) {
			size++
		} else {
			size += 3
		}
	}
	if size > MaxWorkingSize {
		return fmt.Errorf("%w: %d > %d", ErrWorkingLimit, size, MaxWorkingSize)
	}

	out := make([]byte, 0, size)
	for _, c := range src {
		if isUnreserved(c) {
			out = append(out, c)
			continue
		}
		out = append(out, '%', upperHex[c>>4], upperHex[c&0x0f])
	}
	b.replace(out)
	return nil
}

// URLDecode reverses URLEncode. Both upper and lower case hex digits are
// accepted.
func (b *Buffer) URLDecode() error {
	src := b.Bytes()
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c != '%' {
			out = append(out, c)
			continue
		}
		if i+2 >= len(src) {
			return fmt.Errorf("%w: truncated escape at offset %d", ErrMalformedEscape, i)
		}
		hi, ok1 := unhex(src[i+1])
		lo, ok2 := unhex(src[i+2])
		if !ok1 || !ok2 {
			return fmt.Errorf("%w: %q at offset %d", ErrMalformedEscape, src[i:i+3], i)
		}
		out = append(out, hi<<4|lo)
		i += 2
	}
	b.replace(out)
	return nil
}

// Base64Encode replaces the content with its standard, padded base64 form.
func (b *Buffer) Base64Encode() error {
	out := make([]byte, base64.StdEncoding.EncodedLen(b.length))
	base64.StdEncoding.Encode(out, b.Bytes())
	b.replace(out)
	return nil
}

// Base64Decode replaces the content with the decoded bytes. Input with a
// bad alphabet character or wrong padding is rejected.
func (b *Buffer) Base64Decode() error {
	out := make([]byte, base64.StdEncoding.DecodedLen(b.length))
	n, err := base64.StdEncoding.Strict().Decode(out, b.Bytes())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBase64, err)
	}
	b.replace(out[:n])
	return nil
}

// Hash replaces the content with HMAC-SHA256(key, content).
func (b *Buffer) Hash(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(b.Bytes())
	b.replace(mac.Sum(nil))
	return nil
}

func isUnreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// indexOf is a plain scan; inputs here are a few hundred bytes at most.
func indexOf(haystack, needle []byte, start int) int {
	if start < 0 {
		start = 0
	}
	if len(needle) == 0 || start > len(haystack)-len(needle) {
		return -1
	}
	if i := bytes.Index(haystack[start:], needle); i >= 0 {
		return start + i
	}
	return -1
}
