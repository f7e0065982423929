// Package ingest reads mention and card files produced by the external
// collector and extractor, and re-extracts cards in backfills.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// maxLineBytes bounds a single JSONL record; raw article text can be large.
const maxLineBytes = 16 << 20

// Decode streams records from r, which holds either a JSON array or one
// JSON object per line. fn is called for every record. In line mode a line
// that fails to decode is reported to onBad and skipped; in array mode a
// decode error is fatal since the stream cannot resynchronize.
func Decode[T any](ctx context.Context, r io.Reader, fn func(T) error, onBad func(line int, err error)) error {
	br := bufio.NewReaderSize(r, 64<<10)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "ingest: peek input")
	}
	if first == '[' {
		return decodeArray(ctx, br, fn)
	}
	return decodeLines(ctx, br, fn, onBad)
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			if _, err := br.ReadByte(); err != nil {
				return 0, err
			}
		default:
			return b[0], nil
		}
	}
}

func decodeArray[T any](ctx context.Context, r io.Reader, fn func(T) error) error {
	decoder := json.NewDecoder(r)

	// Expect opening bracket
	if _, err := decoder.Token(); err != nil {
		return eris.Wrap(err, "ingest: read opening token")
	}

	for i := 0; decoder.More(); i++ {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "ingest: context cancelled")
		}
		var item T
		if err := decoder.Decode(&item); err != nil {
			return eris.Wrapf(err, "ingest: decode element %d", i)
		}
		if err := fn(item); err != nil {
			return err
		}
	}

	// Consume closing bracket
	if _, err := decoder.Token(); err != nil && err != io.EOF {
		return eris.Wrap(err, "ingest: read closing token")
	}
	return nil
}

func decodeLines[T any](ctx context.Context, r io.Reader, fn func(T) error, onBad func(int, error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "ingest: context cancelled")
		}
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			if onBad != nil {
				onBad(line, err)
			}
			continue
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return eris.Wrapf(err, "ingest: scan line %d", line+1)
	}
	return nil
}
