package shm

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	r, err := Open(path, 16)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Publish([]byte("hello")))

	gen := binary.LittleEndian.Uint64(r.mem[:generationHeaderSize])
	require.Zero(t, gen%2, "generation must be even (stable) after Publish returns")

	body := r.mem[generationHeaderSize : generationHeaderSize+5]
	require.Equal(t, "hello", string(body))
}

func TestPublishZeroPadsShorterData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	r, err := Open(path, 8)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Publish([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
	require.NoError(t, r.Publish([]byte{9}))

	body := r.mem[generationHeaderSize : generationHeaderSize+8]
	require.Equal(t, byte(9), body[0])
	require.Equal(t, byte(0), body[1])
}
