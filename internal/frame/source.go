package frame

import (
	"context"
	"errors"
	"io"
)

// FrameSource yields the frames of one reply in arrival order. Next returns io.EOF once the
// underlying stream is exhausted.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// ChunkReader returns one transport message per call, io.EOF when there are no more.
type ChunkReader interface {
	ReadChunk(ctx context.Context) ([]byte, error)
}

// ChunkReaderFunc adapts a function to ChunkReader.
type ChunkReaderFunc func(ctx context.Context) ([]byte, error)

// ReadChunk calls f(ctx).
func (f ChunkReaderFunc) ReadChunk(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// NewStreamSource reads newline-delimited frames from r. Frames may be split across reads or
// several may arrive in one read.
func NewStreamSource(r io.Reader) FrameSource {
	return &streamSource{
		r:   r,
		dec: NewDecoder(),
		buf: make([]byte, 4096),
	}
}

type streamSource struct {
	r     io.Reader
	dec   *Decoder
	buf   []byte
	queue []Frame
	err   error
	eof   bool
}

func (s *streamSource) Next(ctx context.Context) (Frame, error) {
	for {
		if len(s.queue) > 0 {
			f := s.queue[0]
			s.queue = s.queue[1:]
			return f, nil
		}
		if s.err != nil {
			return Frame{}, s.err
		}
		if s.eof {
			return Frame{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, NewError(KindTransport, "reply stream cancelled", err)
		}
		s.fill()
	}
}

// fill performs one read. Frames decoded before a failure are still delivered ahead of it.
func (s *streamSource) fill() {
	n, err := s.r.Read(s.buf)
	if n > 0 {
		frames, ferr := s.dec.Feed(s.buf[:n])
		s.queue = append(s.queue, frames...)
		if ferr != nil {
			s.err = ferr
			return
		}
	}

	switch {
	case errors.Is(err, io.EOF):
		s.eof = true
		f, ok, ferr := s.dec.Flush()
		if ferr != nil {
			s.err = ferr
			return
		}
		if ok {
			s.queue = append(s.queue, f)
		}
	case err != nil:
		s.err = NewError(KindTransport, "read reply stream", err)
	}
}

// NewChunkSource treats every chunk from r as exactly one frame.
func NewChunkSource(r ChunkReader) FrameSource {
	return &chunkSource{r: r, dec: NewDecoder()}
}

type chunkSource struct {
	r   ChunkReader
	dec *Decoder
}

func (s *chunkSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, NewError(KindTransport, "reply stream cancelled", err)
	}
	chunk, err := s.r.ReadChunk(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, asTransport("read chunk", err)
	}
	return s.dec.ReadNextFrame(chunk)
}

// ReaderChunks adapts r so that every successful Read is one chunk. This reproduces servers that
// write unseparated frames and rely on each write arriving as its own read.
func ReaderChunks(r io.Reader) ChunkReader {
	return &readerChunks{r: r, buf: make([]byte, 32*1024)}
}

type readerChunks struct {
	r   io.Reader
	buf []byte
}

func (c *readerChunks) ReadChunk(context.Context) ([]byte, error) {
	for {
		n, err := c.r.Read(c.buf)
		if n > 0 {
			return append([]byte(nil), c.buf[:n]...), nil
		}
		if err != nil {
			return nil, err
		}
	}
}
