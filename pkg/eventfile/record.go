package eventfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	// recordHeaderSize is the length field plus its masked CRC.
	recordHeaderSize = 8 + 4
	// recordFooterSize is the masked CRC of the payload.
	recordFooterSize = 4

	crcMaskDelta = 0xa282ead8
)

// ErrCorruptRecord is returned when a record fails its checksum or its
// payload cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt event record")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// maskedCRC returns the masked CRC32C used by the TFRecord framing.
func maskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, castagnoli)

	return ((crc >> 15) | (crc << 17)) + crcMaskDelta
}

// recordReader reads length-delimited, checksummed records.
type recordReader struct {
	r      io.Reader
	header [recordHeaderSize]byte
	footer [recordFooterSize]byte
	buf    []byte
	offset int64
}

func newRecordReader(r io.Reader) *recordReader {
	return &recordReader{r: r}
}

// next returns the next record payload. The returned slice is only valid
// until the following call. io.EOF is returned at a clean end of input and
// io.ErrUnexpectedEOF when the input stops inside a record.
func (rr *recordReader) next() ([]byte, error) {
	if _, err := io.ReadFull(rr.r, rr.header[:]); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint64(rr.header[:8])
	if got, want := binary.LittleEndian.Uint32(rr.header[8:]), maskedCRC(rr.header[:8]); got != want {
		return nil, fmt.Errorf("%w: length checksum mismatch at offset %d", ErrCorruptRecord, rr.offset)
	}

	if length > uint64(maxRecordSize) {
		return nil, fmt.Errorf("%w: record of %d bytes at offset %d exceeds limit", ErrCorruptRecord, length, rr.offset)
	}

	if uint64(cap(rr.buf)) < length {
		rr.buf = make([]byte, length)
	}

	rr.buf = rr.buf[:length]

	if _, err := io.ReadFull(rr.r, rr.buf); err != nil {
		return nil, truncated(err)
	}

	if _, err := io.ReadFull(rr.r, rr.footer[:]); err != nil {
		return nil, truncated(err)
	}

	if got, want := binary.LittleEndian.Uint32(rr.footer[:]), maskedCRC(rr.buf); got != want {
		return nil, fmt.Errorf("%w: payload checksum mismatch at offset %d", ErrCorruptRecord, rr.offset)
	}

	rr.offset += int64(recordHeaderSize) + int64(length) + recordFooterSize

	return rr.buf, nil
}

// maxRecordSize guards against allocating absurd buffers for garbage lengths
// that happen to pass the length checksum.
const maxRecordSize = 1 << 30

func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}

	return err
}

// writeRecord frames payload and writes it to w.
func writeRecord(w io.Writer, payload []byte) error {
	var header [recordHeaderSize]byte

	binary.LittleEndian.PutUint64(header[:8], uint64(len(payload)))
	binary.LittleEndian.PutUint32(header[8:], maskedCRC(header[:8]))

	var footer [recordFooterSize]byte

	binary.LittleEndian.PutUint32(footer[:], maskedCRC(payload))

	for _, chunk := range [][]byte{header[:], payload, footer[:]} {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}

	return nil
}
