package pktbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocFree(t *testing.T) {
	p := NewPool(2, 64)
	a := p.Alloc()
	b := p.Alloc()
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, 2, p.InUse())

	assert.Nil(t, p.Alloc(), "pool of 2 must be exhausted")
	assert.Equal(t, uint64(1), p.AllocFailed())

	a.Free()
	p.Free(b)
	assert.Equal(t, 0, p.InUse())
	assert.Equal(t, 2, p.Available())
}

func TestSetBytes(t *testing.T) {
	p := NewPool(1, 4)
	pkt := p.Alloc()
	require.NoError(t, pkt.SetBytes([]byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, pkt.Bytes())
	assert.Equal(t, 3, pkt.Len())
	assert.Equal(t, int64(24), pkt.Bits())

	assert.ErrorIs(t, pkt.SetBytes([]byte{1, 2, 3, 4, 5}), ErrTooLarge)
}

func TestCloneIsIndependent(t *testing.T) {
	p := NewPool(2, 16)
	orig := p.Alloc()
	require.NoError(t, orig.SetBytes([]byte("hello")))
	orig.Tag = 1234

	dup := p.Clone(orig)
	require.NotNil(t, dup)
	assert.NotSame(t, orig, dup)
	assert.Equal(t, orig.Bytes(), dup.Bytes())
	assert.Equal(t, int64(1234), dup.Tag)

	dup.Bytes()[0] = 'j'
	assert.Equal(t, "hello", string(orig.Bytes()))

	orig.Free()
	dup.Free()
	assert.Equal(t, 0, p.InUse())
}

func TestCloneExhausted(t *testing.T) {
	p := NewPool(1, 16)
	orig := p.Alloc()
	assert.Nil(t, p.Clone(orig))
}

func TestAllocResetsState(t *testing.T) {
	p := NewPool(1, 16)
	pkt := p.Alloc()
	require.NoError(t, pkt.SetBytes([]byte("abc")))
	pkt.Tag = 9
	pkt.Free()

	again := p.Alloc()
	assert.Equal(t, 0, again.Len())
	assert.Equal(t, int64(0), again.Tag)
}

func TestDoubleFreePanics(t *testing.T) {
	p := NewPool(1, 16)
	pkt := p.Alloc()
	pkt.Free()
	assert.Panics(t, func() { pkt.Free() })
}
