// Package shm publishes plain-data snapshots to memory-mapped regions
// for external, read-only observability (radio stats, video-info,
// adaptive-video controller info, process watchdog, per §6). The
// contract is single-writer, multi-reader, torn reads tolerated: the
// body is overwritten in place, and a reader that samples mid-write
// sees an odd generation counter (or one that changed across its read)
// and knows to retry, the same sequence-lock idiom §9's design note
// calls for in place of the original's bare memcpy-the-whole-struct.
package shm

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// generationHeaderSize reserves 8 bytes at the front of every region for
// an odd/even sequence counter: odd means "write in progress", even
// means "stable". Readers that observe an odd value, or a generation
// that changed between their own read and a re-check, must retry.
const generationHeaderSize = 8

// Region is one memory-mapped, single-writer snapshot publication
// target.
type Region struct {
	path string
	size int
	mem  []byte
	gen  uint64
}

// Open creates (if needed) and maps a size-byte region backed by path.
func Open(path string, size int) (*Region, error) {
	total := generationHeaderSize + size
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(total)); err != nil {
		return nil, fmt.Errorf("shm: truncate %s: %w", path, err)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}
	return &Region{path: path, size: size, mem: mem}, nil
}

// Publish copies data (truncated/zero-padded to the region's fixed
// size) into the mapped region under a sequence lock.
func (r *Region) Publish(data []byte) error {
	r.gen++
	binary.LittleEndian.PutUint64(r.mem[:generationHeaderSize], r.gen) // odd: write in progress

	body := r.mem[generationHeaderSize:]
	n := copy(body, data)
	for ; n < len(body); n++ {
		body[n] = 0
	}

	r.gen++
	binary.LittleEndian.PutUint64(r.mem[:generationHeaderSize], r.gen) // even: stable

	return unix.Msync(r.mem, unix.MS_ASYNC)
}

// Close unmaps the region. The backing file is left in place.
func (r *Region) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}
