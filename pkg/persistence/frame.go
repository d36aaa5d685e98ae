package persistence

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Constants for the binary file framing shared by the journal and the
// document store.
const (
	// MagicByte marks the start of a valid frame. It lets recovery scan
	// for the next frame boundary in a damaged file.
	MagicByte = 0xC5

	// HeaderSize is the fixed size of the frame metadata:
	// 1 byte (Magic) + 1 byte (OpCode) + 4 bytes (Length) + 4 bytes (CRC32).
	HeaderSize = 10

	// OpCodeCommand frames one journal command.
	OpCodeCommand = 0x01
	// OpCodeArtifact frames a versioned cred artifact document.
	OpCodeArtifact = 0x02
	// OpCodeGraph frames a versioned graph document.
	OpCodeGraph = 0x03
)

var (
	// ErrInvalidMagic indicates the stream lost synchronization or the file
	// was not written by this package.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrChecksumMismatch indicates corruption of the frame payload.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame indicates the file ends mid-frame, e.g. after a
	// crash during an append.
	ErrIncompleteFrame = errors.New("incomplete frame")
)

// FrameWriter writes binary frames to an underlying io.Writer.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter wraps an io.Writer. Wrapping a bufio.Writer keeps the
// header and payload in a single flush.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame encodes the payload as one frame:
// [Magic(1)][OpCode(1)][Length(4 LE)][CRC32(4 LE)][Payload(N)]
func (fw *FrameWriter) WriteFrame(op byte, payload []byte) error {
	header := make([]byte, HeaderSize)
	header[0] = MagicByte
	header[1] = op
	binary.LittleEndian.PutUint32(header[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[6:10], crc32.ChecksumIEEE(payload))

	if _, err := fw.w.Write(header); err != nil {
		return err
	}
	_, err := fw.w.Write(payload)
	return err
}

// ReadFrame reads and validates the next frame. It returns the opcode, the
// payload, and the total bytes consumed. A clean end of stream returns
// io.EOF; a stream ending inside a frame returns ErrIncompleteFrame.
func ReadFrame(r io.Reader) (op byte, payload []byte, n int, err error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return 0, nil, 0, io.EOF
		}
		return 0, nil, 0, ErrIncompleteFrame
	}

	if header[0] != MagicByte {
		return 0, nil, HeaderSize, ErrInvalidMagic
	}
	op = header[1]
	length := binary.LittleEndian.Uint32(header[2:6])
	expectedCRC := binary.LittleEndian.Uint32(header[6:10])

	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return op, nil, HeaderSize, ErrIncompleteFrame
	}
	if crc32.ChecksumIEEE(payload) != expectedCRC {
		return op, nil, HeaderSize + int(length), ErrChecksumMismatch
	}
	return op, payload, HeaderSize + int(length), nil
}
