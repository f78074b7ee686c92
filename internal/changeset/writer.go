package changeset

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// headerSize is the frame header: int64 time plus uint32 length.
const headerSize = 12

// maxRecordSize bounds a single frame payload.
const maxRecordSize = 64 << 20

// Writer appends frames to a changeset file. It is safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
	out  io.Writer // f, except in tests
}

// OpenWriter opens (creating if needed) a changeset file for appending.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open changeset %s: %w", path, err)
	}
	return &Writer{path: path, f: f, out: f}, nil
}

// Path returns the file the writer appends to.
func (w *Writer) Path() string {
	return w.path
}

// Append writes one frame per record, all stamped with commitTime, and
// syncs the file. Frames of one call are written contiguously. When a write
// fails the file is cut back to its previous size, so no torn frame is left
// in front of later appends.
func (w *Writer) Append(commitTime int64, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	payloads := make([][]byte, len(records))
	for i, r := range records {
		payload, err := r.Encode()
		if err != nil {
			return err
		}
		if len(payload) > maxRecordSize {
			return fmt.Errorf("append to %s: record %s of %d bytes exceeds limit", w.path, r.UUID, len(payload))
		}
		payloads[i] = payload
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return fmt.Errorf("append to %s: writer closed", w.path)
	}

	info, err := w.f.Stat()
	if err != nil {
		return fmt.Errorf("append to %s: %w", w.path, err)
	}
	if err := w.writeFrames(commitTime, payloads); err != nil {
		if terr := w.f.Truncate(info.Size()); terr != nil {
			err = errors.Join(err, fmt.Errorf("roll back: %w", terr))
		}
		return fmt.Errorf("append to %s: %w", w.path, err)
	}
	return nil
}

func (w *Writer) writeFrames(commitTime int64, payloads [][]byte) error {
	bw := bufio.NewWriter(w.out)
	for _, p := range payloads {
		if err := writeFrame(bw, commitTime, p); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func writeFrame(bw *bufio.Writer, commitTime int64, payload []byte) error {
	var hdr [headerSize]byte
	binary.BigEndian.PutUint64(hdr[:8], uint64(commitTime))
	binary.BigEndian.PutUint32(hdr[8:], uint32(len(payload)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}
	_, err := bw.Write(payload)
	return err
}
