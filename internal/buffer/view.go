package buffer

import "bytes"

// View is a read-only window over bytes owned by someone else, typically a
// Buffer or a parsed input. It never copies and has no mutating methods.
// The underlying bytes must not be modified while a View over them is in use.
type View struct {
	b []byte
}

// NewView wraps b without copying it.
func NewView(b []byte) View {
	return View{b: b}
}

func (v View) Len() int { return len(v.b) }

func (v View) String() string { return string(v.b) }

// Bytes returns the viewed bytes. Callers must treat the result as read-only.
func (v View) Bytes() []byte { return v.b }

func (v View) IndexOf(needle []byte, start int) int {
	return indexOf(v.b, needle, start)
}

func (v View) StartsWith(prefix []byte) bool {
	return bytes.HasPrefix(v.b, prefix)
}

// Slice returns the sub-view [i, j). Out of range bounds are clamped.
func (v View) Slice(i, j int) View {
	if i < 0 {
		i = 0
	}
	if j > len(v.b) {
		j = len(v.b)
	}
	if i > j {
		i = j
	}
	return View{b: v.b[i:j:j]}
}

// Clone copies the view into a new owned Buffer that can be transformed.
func (v View) Clone() *Buffer {
	return FromBytes(v.b)
}
