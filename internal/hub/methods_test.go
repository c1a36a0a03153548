package hub

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, []byte) ([]byte, error) { return nil, nil }

func TestMethodRegistryRegisterAndLookup(t *testing.T) {
	r := NewMethodRegistry()
	require.NoError(t, r.Register("reboot", noop))
	require.NoError(t, r.Register("blink", func(context.Context, []byte) ([]byte, error) {
		return []byte(`{"blinked":true}`), nil
	}))

	h, err := r.Lookup("blink")
	require.NoError(t, err)
	out, err := h(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, `{"blinked":true}`, string(out))

	_, err = r.Lookup("reboot")
	assert.NoError(t, err)
	assert.Equal(t, []string{"reboot", "blink"}, r.Names())
}

func TestMethodRegistryRejectsDuplicates(t *testing.T) {
	r := NewMethodRegistry()
	require.NoError(t, r.Register("reboot", noop))
	assert.ErrorIs(t, r.Register("reboot", noop), ErrMethodExists)
	assert.Len(t, r.Names(), 1)
}

func TestMethodRegistryCapacity(t *testing.T) {
	r := NewMethodRegistry()
	for i := 0; i < MaxMethods; i++ {
		require.NoError(t, r.Register(fmt.Sprintf("m%d", i), noop))
	}
	assert.ErrorIs(t, r.Register("one-too-many", noop), ErrRegistryFull)
	assert.Len(t, r.Names(), MaxMethods)
}

func TestMethodRegistryLookupMiss(t *testing.T) {
	r := NewMethodRegistry()
	_, err := r.Lookup("missing")
	assert.ErrorIs(t, err, ErrMethodNotFound)
}

func TestMethodRegistryRejectsEmpty(t *testing.T) {
	r := NewMethodRegistry()
	assert.ErrorIs(t, r.Register("", noop), ErrEmptyMethod)
	assert.ErrorIs(t, r.Register("x", nil), ErrEmptyMethod)
}
