package vectorstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/embedding"
)

// Shape is the (T, D) header stored alongside seq_blob.
type Shape struct {
	T int
	D int
}

// packTensor little-endian-packs a T×D tensor into a flat float32 byte
// stream, then gzip-compresses it, per spec.md §4.6's "Gzip-compressed
// little-endian packed T×D float... tensor" field definition. klauspost's
// gzip is a drop-in for compress/gzip already present in the teacher's
// dependency graph (its indirect use backs xuri/excelize and
// chromedp's transport) and is faster on the write path, which runs once
// per ingested page/chunk.
func packTensor(t embedding.Tensor) (Shape, []byte, error) {
	shape := Shape{T: len(t), D: t.Dim()}
	var raw bytes.Buffer
	for _, row := range t {
		for _, v := range row {
			if err := binary.Write(&raw, binary.LittleEndian, v); err != nil {
				return shape, nil, fmt.Errorf("vectorstore: pack tensor: %w", err)
			}
		}
	}

	var compressed bytes.Buffer
	gw := gzip.NewWriter(&compressed)
	if _, err := gw.Write(raw.Bytes()); err != nil {
		return shape, nil, fmt.Errorf("vectorstore: gzip tensor: %w", err)
	}
	if err := gw.Close(); err != nil {
		return shape, nil, fmt.Errorf("vectorstore: gzip close: %w", err)
	}
	return shape, compressed.Bytes(), nil
}

// unpackTensor reverses packTensor: gunzip then little-endian-decode into
// shape.T rows of shape.D float32s each.
func unpackTensor(shape Shape, blob []byte) (embedding.Tensor, error) {
	if shape.T <= 0 || shape.D <= 0 {
		return nil, fmt.Errorf("vectorstore: invalid shape (%d, %d)", shape.T, shape.D)
	}
	gr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("vectorstore: gunzip tensor: %w", err)
	}
	defer gr.Close()
	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: read decompressed tensor: %w", err)
	}

	want := shape.T * shape.D * 4
	if len(raw) != want {
		return nil, fmt.Errorf("vectorstore: decompressed size %d, want %d for shape (%d,%d)", len(raw), want, shape.T, shape.D)
	}

	t := make(embedding.Tensor, shape.T)
	r := bytes.NewReader(raw)
	for i := range t {
		row := make([]float32, shape.D)
		for j := range row {
			if err := binary.Read(r, binary.LittleEndian, &row[j]); err != nil {
				return nil, fmt.Errorf("vectorstore: unpack tensor row %d col %d: %w", i, j, err)
			}
		}
		t[i] = row
	}
	return t, nil
}
