// Package archive writes and reads zstd compressed JSON lines dumps of the
// message history.
package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/rubiojr/pulse/pkg/core"
)

// Source streams messages oldest first. storage.Store implements it.
type Source interface {
	AllMessages(ctx context.Context, fn func(core.Message) error) error
}

// Export writes every message from src to w, one JSON object per line, and
// returns how many were written.
func Export(ctx context.Context, src Source, w io.Writer) (int, error) {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("creating zstd encoder: %w", err)
	}

	jw := json.NewEncoder(enc)
	count := 0
	err = src.AllMessages(ctx, func(m core.Message) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := jw.Encode(m); err != nil {
			return fmt.Errorf("encoding message %s: %w", m.ID, err)
		}
		count++
		return nil
	})
	if err != nil {
		enc.Close()
		return count, err
	}
	if err := enc.Close(); err != nil {
		return count, fmt.Errorf("flushing archive: %w", err)
	}
	return count, nil
}

// Read decodes an archive produced by Export and calls fn for each message
// in order. It returns the number of messages read.
func Read(r io.Reader, fn func(core.Message) error) (int, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()

	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m core.Message
		if err := json.Unmarshal(line, &m); err != nil {
			return count, fmt.Errorf("decoding line %d: %w", count+1, err)
		}
		if err := fn(m); err != nil {
			return count, err
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("reading archive: %w", err)
	}
	return count, nil
}
