package snapshot

import (
	"bytes"
	"fmt"
	"io"
)

// ChunkSize is the bounded size of each SnapshotChunk frame's payload,
// matching the wire protocol's 1 MiB snapshot transfer chunking.
const ChunkSize = 1 << 20

// ChunkWriter splits an encoded envelope into bounded pieces and hands
// each one to send, the same streaming path used whether the caller is
// writing to a local file or a wire.Conn.
type ChunkWriter struct {
	send func(data []byte, final bool) error
}

// NewChunkWriter wraps send, called once per chunk in order, with final
// true on the last call.
func NewChunkWriter(send func(data []byte, final bool) error) *ChunkWriter {
	return &ChunkWriter{send: send}
}

// WriteEnvelope encodes env and streams it out in ChunkSize pieces.
func (c *ChunkWriter) WriteEnvelope(env Envelope) error {
	var buf bytes.Buffer
	if err := Encode(&buf, env); err != nil {
		return err
	}
	data := buf.Bytes()
	if len(data) == 0 {
		return c.send(nil, true)
	}
	for offset := 0; offset < len(data); offset += ChunkSize {
		end := offset + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		final := end == len(data)
		if err := c.send(data[offset:end], final); err != nil {
			return fmt.Errorf("snapshot: send chunk at offset %d: %w", offset, err)
		}
	}
	return nil
}

// ChunkAssembler buffers incoming SnapshotChunk payloads and decodes the
// full envelope once the final chunk arrives.
type ChunkAssembler struct {
	buf bytes.Buffer
}

// Add appends one chunk's data. Call it for every chunk, including the
// final one, before calling Finish.
func (a *ChunkAssembler) Add(data []byte) {
	a.buf.Write(data)
}

// Finish decodes the assembled bytes as an Envelope.
func (a *ChunkAssembler) Finish() (Envelope, error) {
	return Decode(bytes.NewReader(a.buf.Bytes()))
}

// WriteTo mirrors io.WriterTo so an Envelope's chunked transfer can be
// driven from a plain io.Writer when no chunk-boundary framing is needed
// (local file export, for instance).
func WriteTo(w io.Writer, env Envelope) (int64, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, env); err != nil {
		return 0, err
	}
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}
