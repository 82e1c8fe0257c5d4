package rankmerge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"

	rankerrors "github.com/tessro/rankmerge/errors"
)

const (
	// resultMagic identifies rankmerge result files ("RKMG" big-endian).
	resultMagic = uint32(0x524B4D47)

	// resultVersion is the current result file format version.
	resultVersion = uint16(0x0001)

	// resultHeaderSize is the exact size of the serialized header.
	// Layout: [Magic 4B][Version 2B][Reserved 2B][Count 8B]
	resultHeaderSize = 16

	// resultFooterSize holds the xxhash64 checksum of header plus values.
	resultFooterSize = 8
)

// WriteFile writes the merged list to path as a binary result file:
// a fixed header, the values as little-endian uint64s, and an xxhash64
// checksum footer covering everything before it.
//
// The file is pre-allocated with fallocate and written through an mmap
// region, so a full disk surfaces as an allocation error up front rather
// than a SIGBUS mid-write.
func WriteFile(path string, values []uint64) error {
	size := int64(resultHeaderSize + 8*len(values) + resultFooterSize)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("rankmerge: create result file: %w", err)
	}

	if err := fallocateFile(file, size); err != nil {
		primaryErr := fmt.Errorf("rankmerge: allocate result file: %w", err)
		return errors.Join(primaryErr, file.Close())
	}

	mm, err := mmap.MapRegion(file, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		primaryErr := fmt.Errorf("rankmerge: mmap result file: %w", err)
		return errors.Join(primaryErr, file.Close())
	}
	data := []byte(mm)
	prefaultRegion(data)

	binary.LittleEndian.PutUint32(data[0:4], resultMagic)
	binary.LittleEndian.PutUint16(data[4:6], resultVersion)
	// data[6:8] reserved, zero
	binary.LittleEndian.PutUint64(data[8:16], uint64(len(values)))
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[resultHeaderSize+8*i:], v)
	}

	checksumOffset := size - resultFooterSize
	binary.LittleEndian.PutUint64(data[checksumOffset:], xxhash.Sum64(data[:checksumOffset]))

	if err := mm.Flush(); err != nil {
		primaryErr := fmt.Errorf("rankmerge: flush result file: %w", err)
		return errors.Join(primaryErr, mm.Unmap(), file.Close())
	}
	return errors.Join(mm.Unmap(), file.Close())
}

// ReadFile reads a result file written by WriteFile, verifying the magic,
// version, length and checksum before returning the values.
func ReadFile(path string) ([]uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rankmerge: open result file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("rankmerge: stat result file: %w", err)
	}
	fadviseSequential(int(file.Fd()), 0, info.Size())

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("rankmerge: read result file: %w", err)
	}
	if len(data) < resultHeaderSize+resultFooterSize {
		return nil, fmt.Errorf("%w: %d bytes", rankerrors.ErrTruncatedFile, len(data))
	}

	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != resultMagic {
		return nil, fmt.Errorf("%w: %#x", rankerrors.ErrInvalidMagic, magic)
	}
	if version := binary.LittleEndian.Uint16(data[4:6]); version != resultVersion {
		return nil, fmt.Errorf("%w: %d", rankerrors.ErrInvalidVersion, version)
	}

	count := binary.LittleEndian.Uint64(data[8:16])
	// Bound the count before multiplying so a forged header cannot
	// overflow the size arithmetic or size an absurd allocation.
	payload := uint64(len(data) - resultHeaderSize - resultFooterSize)
	if count > payload/8 || 8*count != payload {
		return nil, fmt.Errorf("%w: %d bytes of values, header claims %d values",
			rankerrors.ErrTruncatedFile, payload, count)
	}

	checksumOffset := len(data) - resultFooterSize
	stored := binary.LittleEndian.Uint64(data[checksumOffset:])
	if computed := xxhash.Sum64(data[:checksumOffset]); computed != stored {
		return nil, fmt.Errorf("%w: stored %#x, computed %#x",
			rankerrors.ErrChecksumFailed, stored, computed)
	}

	values := make([]uint64, count)
	for i := range values {
		values[i] = binary.LittleEndian.Uint64(data[resultHeaderSize+8*i:])
	}
	return values, nil
}
