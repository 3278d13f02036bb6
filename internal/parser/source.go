// Package parser streams JSON-lines honeypot log files, decoding each line
// into an offset/payload pair and classifying it into the Event sum type
// defined in internal/model.
package parser

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
)

// Line is one decoded (or malformed) input line and its 0-based offset.
type Line struct {
	Offset  int64
	Raw     string
	Payload map[string]interface{} // nil if the line failed to parse as an object
	Parsed  bool
}

// OpenSource opens a log file, transparently decompressing by extension
// (.gz, .bz2), matching the source's opener-by-suffix dispatch.
func OpenSource(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("parser: open %s: %w", path, err)
	}

	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("parser: gzip reader for %s: %w", path, err)
		}
		return &readCloserPair{Reader: gz, closer: f}, nil
	case strings.HasSuffix(path, ".bz2"):
		return &readCloserPair{Reader: bzip2.NewReader(f), closer: f}, nil
	default:
		return f, nil
	}
}

type readCloserPair struct {
	io.Reader
	closer io.Closer
}

func (r *readCloserPair) Close() error { return r.closer.Close() }

// IterLines decodes each non-empty line in r into a Line, in offset order.
// Lines that aren't a JSON object decode with Parsed=false; callers route
// those to the dead-letter queue with the raw text preserved.
func IterLines(r io.Reader, fn func(Line) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var offset int64
	for scanner.Scan() {
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			offset++
			continue
		}

		line := Line{Offset: offset, Raw: text}
		if payload, ok := decodeObject(text); ok {
			line.Payload = payload
			line.Parsed = true
		}

		if err := fn(line); err != nil {
			return err
		}
		offset++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("parser: scan error: %w", err)
	}
	return nil
}
