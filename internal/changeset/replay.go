package changeset

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Applier consumes replayed records. The engine implements it.
type Applier interface {
	ApplyRecord(ctx context.Context, commitTime int64, rec Record) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, commitTime int64, rec Record) error

func (f ApplierFunc) ApplyRecord(ctx context.Context, commitTime int64, rec Record) error {
	return f(ctx, commitTime, rec)
}

// Stats summarizes one replay.
type Stats struct {
	File    string
	Start   int64 // offset replay resumed from
	Offset  int64 // offset after the last applied record
	Records int
	// Truncated is set when the file ends in a partial frame, which is left
	// for the next replay.
	Truncated bool
}

// MarkerPath returns the offset marker path of a changeset file.
func MarkerPath(file string) string {
	return file + ".offset"
}

// ReadMarker returns the applied-bytes offset of file, or 0 if no marker
// exists yet.
func ReadMarker(file string) (int64, error) {
	data, err := os.ReadFile(MarkerPath(file))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read offset marker: %w", err)
	}
	off, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || off < 0 {
		return 0, fmt.Errorf("corrupt offset marker %s: %q", MarkerPath(file), strings.TrimSpace(string(data)))
	}
	return off, nil
}

// writeMarker replaces the marker atomically.
func writeMarker(file string, off int64) error {
	tmp := MarkerPath(file) + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(off, 10)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write offset marker: %w", err)
	}
	if err := os.Rename(tmp, MarkerPath(file)); err != nil {
		return fmt.Errorf("write offset marker: %w", err)
	}
	return nil
}

// Replay applies every whole frame of file after its offset marker,
// advancing the marker after each applied record. An applier error stops
// replay with the marker at the last applied record.
func Replay(ctx context.Context, file string, applier Applier, logger *slog.Logger) (Stats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start, err := ReadMarker(file)
	if err != nil {
		return Stats{File: file}, err
	}
	stats := Stats{File: file, Start: start, Offset: start}

	f, err := os.Open(file)
	if err != nil {
		return stats, fmt.Errorf("open changeset: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return stats, fmt.Errorf("stat changeset: %w", err)
	}
	if start > info.Size() {
		return stats, fmt.Errorf("offset marker %d beyond end of %s (%d bytes)", start, file, info.Size())
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return stats, fmt.Errorf("seek changeset: %w", err)
	}

	br := bufio.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		commitTime, payload, err := readFrame(br)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			stats.Truncated = true
			logger.Warn("changeset ends in a partial frame", "file", file, "offset", stats.Offset)
			break
		}
		if err != nil {
			return stats, fmt.Errorf("%s at offset %d: %w", file, stats.Offset, err)
		}

		rec, err := Decode(payload)
		if err != nil {
			return stats, fmt.Errorf("%s at offset %d: %w", file, stats.Offset, err)
		}
		if err := applier.ApplyRecord(ctx, commitTime, rec); err != nil {
			return stats, fmt.Errorf("apply %s at offset %d: %w", rec.UUID, stats.Offset, err)
		}

		stats.Offset += int64(headerSize + len(payload))
		stats.Records++
		if err := writeMarker(file, stats.Offset); err != nil {
			return stats, err
		}
	}

	logger.Info("changeset replayed",
		"file", file,
		"offset", stats.Offset,
		"records", stats.Records,
	)
	return stats, nil
}

// ReadAll decodes every whole frame of r, ignoring any trailing partial
// frame. It is used by export tooling and tests.
func ReadAll(r io.Reader) ([]int64, []Record, error) {
	br := bufio.NewReader(r)
	var times []int64
	var recs []Record
	for {
		t, payload, err := readFrame(br)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return times, recs, nil
		}
		if err != nil {
			return times, recs, err
		}
		rec, err := Decode(payload)
		if err != nil {
			return times, recs, err
		}
		times = append(times, t)
		recs = append(recs, rec)
	}
}

// readFrame returns io.EOF at a clean frame boundary and
// io.ErrUnexpectedEOF inside a frame.
func readFrame(br *bufio.Reader) (int64, []byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return 0, nil, err
	}
	commitTime := int64(binary.BigEndian.Uint64(hdr[:8]))
	n := binary.BigEndian.Uint32(hdr[8:])
	if n > maxRecordSize {
		return 0, nil, fmt.Errorf("frame length %d exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(br, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return commitTime, payload, nil
}
