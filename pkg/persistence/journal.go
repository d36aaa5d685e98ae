package persistence

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

// Journal is the append-only command log. Each appended command is wrapped
// in a CRC frame so replay can detect torn writes and corruption. Writes go
// through a buffer; call Flush to push them to the file and Sync to force
// them to disk.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	fw   *FrameWriter
	path string
}

// OpenJournal opens or creates the journal file at path.
func OpenJournal(path string) (*Journal, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	buf := bufio.NewWriter(file)
	return &Journal{
		file: file,
		buf:  buf,
		fw:   NewFrameWriter(buf),
		path: path,
	}, nil
}

// Append buffers one formatted command (see FormatCommand) as a frame.
func (j *Journal) Append(cmd string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fw.WriteFrame(OpCodeCommand, []byte(cmd))
}

// Flush pushes buffered frames to the file descriptor.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.buf.Flush()
}

// Sync flushes and then fsyncs the file.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		_ = j.file.Close()
		return err
	}
	return j.file.Close()
}

// Truncate discards the journal contents. Called after the journaled state
// has been compacted elsewhere.
func (j *Journal) Truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.buf.Reset(j.file)
	if err := j.file.Truncate(0); err != nil {
		return err
	}
	_, err := j.file.Seek(0, 0)
	return err
}

// ReplaceWith atomically swaps in a rewritten journal file and reopens it.
func (j *Journal) ReplaceWith(newFilePath string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_ = j.buf.Flush()
	_ = j.file.Close()

	if err := os.Rename(newFilePath, j.path); err != nil {
		return fmt.Errorf("failed to replace journal: %w", err)
	}
	file, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return fmt.Errorf("failed to reopen journal after replace: %w", err)
	}
	j.file = file
	j.buf.Reset(file)
	j.fw = NewFrameWriter(j.buf)
	return nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Size reports the current on-disk size, after flushing the buffer.
func (j *Journal) Size() (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		return 0, err
	}
	info, err := j.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ReplayJournal streams the commands of a journal in write order, calling
// apply for each. It returns the number of commands delivered. A torn final
// frame stops replay without error, since a crash during an append is an
// expected way for a journal to end; corruption earlier in the file is
// returned to the caller after the preceding commands were delivered.
func ReplayJournal(r io.Reader, apply func(*Command) error) (int, error) {
	applied := 0
	for {
		op, payload, _, err := ReadFrame(r)
		if err == io.EOF || err == ErrIncompleteFrame {
			return applied, nil
		}
		if err != nil {
			return applied, err
		}
		if op != OpCodeCommand {
			return applied, fmt.Errorf("unexpected frame type 0x%02x in journal", op)
		}
		cmd, err := ParseCommand(bufio.NewReader(bytes.NewReader(payload)))
		if err != nil {
			return applied, fmt.Errorf("malformed journal command: %w", err)
		}
		if err := apply(cmd); err != nil {
			return applied, err
		}
		applied++
	}
}
