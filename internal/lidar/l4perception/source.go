package l4perception

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// HypothesisSource abstracts the sensor front-end. Each call to Next returns
// the batch for the next sensing cycle, or io.EOF when the source is drained.
type HypothesisSource interface {
	Next(ctx context.Context) (Batch, error)
}

// maxLineBytes bounds a single JSON-lines record (one sensing cycle).
const maxLineBytes = 4 * 1024 * 1024

// wireBox decodes a hypothesis while telling an omitted timestamp apart
// from an explicit zero.
type wireBox struct {
	BoxModel
	TimestampNanos *int64 `json:"timestamp_nanos"`
}

type wireBatch struct {
	TimestampNanos int64     `json:"timestamp_nanos"`
	Hypotheses     []wireBox `json:"hypotheses"`
}

// batch fills omitted hypothesis timestamps from the batch. Explicit values
// are kept so that Batch.Consistent can reject a mismatch.
func (wb wireBatch) batch() Batch {
	b := Batch{TimestampNanos: wb.TimestampNanos}
	if len(wb.Hypotheses) > 0 {
		b.Hypotheses = make([]BoxModel, len(wb.Hypotheses))
	}
	for i, h := range wb.Hypotheses {
		box := h.BoxModel
		box.TimestampNanos = wb.TimestampNanos
		if h.TimestampNanos != nil {
			box.TimestampNanos = *h.TimestampNanos
		}
		b.Hypotheses[i] = box
	}
	return b
}

// BatchReader decodes recorded batches from a JSON-lines stream, one batch
// per line. Hypotheses that omit timestamp_nanos inherit the batch timestamp.
type BatchReader struct {
	scanner *bufio.Scanner
	line    int
}

// NewBatchReader creates a BatchReader over r.
func NewBatchReader(r io.Reader) *BatchReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &BatchReader{scanner: scanner}
}

// Next returns the next batch. Blank lines are skipped.
func (br *BatchReader) Next(ctx context.Context) (Batch, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}
		if !br.scanner.Scan() {
			if err := br.scanner.Err(); err != nil {
				return Batch{}, fmt.Errorf("read batch line %d: %w", br.line+1, err)
			}
			return Batch{}, io.EOF
		}
		br.line++
		raw := br.scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		var wb wireBatch
		if err := json.Unmarshal(raw, &wb); err != nil {
			return Batch{}, fmt.Errorf("decode batch line %d: %w", br.line, err)
		}
		return wb.batch(), nil
	}
}

// ReadAll drains the reader and returns every batch in order.
func (br *BatchReader) ReadAll(ctx context.Context) ([]Batch, error) {
	var out []Batch
	for {
		b, err := br.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
}

// WriteBatch encodes one batch as a JSON line.
func WriteBatch(w io.Writer, b Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// SliceSource replays batches held in memory.
type SliceSource struct {
	batches []Batch
	next    int
}

// NewSliceSource returns a source yielding batches in order.
func NewSliceSource(batches []Batch) *SliceSource {
	return &SliceSource{batches: batches}
}

// Next returns the next batch, or io.EOF when all have been returned.
func (s *SliceSource) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	if s.next >= len(s.batches) {
		return Batch{}, io.EOF
	}
	b := s.batches[s.next]
	s.next++
	return b, nil
}
