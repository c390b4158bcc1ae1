package rxd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCopyToIOV(t *testing.T) {
	a, b, c := make([]byte, 3), make([]byte, 0), make([]byte, 4)
	iov := [][]byte{a, b, c}
	assert.Equal(t, 7, iovLen(iov))

	n := copyToIOV(iov, 0, []byte("abcde"))
	assert.Equal(t, 5, n)
	assert.Equal(t, "abc", string(a))
	assert.Equal(t, "de\x00\x00", string(c))

	// continue from the middle of the second non-empty buffer
	n = copyToIOV(iov, 5, []byte("fghij"))
	assert.Equal(t, 2, n)
	assert.Equal(t, "defg", string(c))

	assert.Equal(t, 0, copyToIOV(iov, 7, []byte("x")))
	assert.Equal(t, 0, copyToIOV(nil, 0, []byte("x")))
}

func TestCopyFromIOV(t *testing.T) {
	iov := [][]byte{[]byte("ab"), nil, []byte("cdef")}

	dst := make([]byte, 4)
	assert.Equal(t, 4, copyFromIOV(dst, iov, 1))
	assert.Equal(t, "bcde", string(dst))

	dst = make([]byte, 10)
	assert.Equal(t, 2, copyFromIOV(dst, iov, 4))
	assert.Equal(t, "ef", string(dst[:2]))

	assert.Equal(t, 0, copyFromIOV(dst, iov, 6))
}
