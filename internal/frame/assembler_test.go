package frame_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/dndchat/lmchat/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunks serves a fixed list of messages and counts how many were read.
type chunks struct {
	msgs  []string
	reads int
	err   error
}

func (c *chunks) ReadChunk(context.Context) ([]byte, error) {
	if c.reads >= len(c.msgs) {
		if c.err != nil {
			return nil, c.err
		}
		return nil, io.EOF
	}
	c.reads++
	return []byte(c.msgs[c.reads-1]), nil
}

func collect(t *testing.T, a *frame.Assembler, ctx context.Context) ([]frame.Update, error) {
	t.Helper()
	var updates []frame.Update
	for u, err := range a.Updates(ctx) {
		if err != nil {
			return updates, err
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func encodeAll(t *testing.T, frames ...frame.Frame) string {
	t.Helper()
	var buf bytes.Buffer
	enc := frame.NewEncoder(&buf)
	for _, f := range frames {
		require.NoError(t, enc.Encode(f))
	}
	return buf.String()
}

func TestAssemblerUpdates(t *testing.T) {
	stream := encodeAll(t,
		frame.Frame{Role: "Assistant", Text: "Hel"},
		frame.Frame{Role: "Assistant", Text: "lo"},
		frame.Frame{Role: "Assistant", Text: "", Complete: true},
	)

	a := frame.NewAssembler(frame.NewStreamSource(strings.NewReader(stream)))
	assert.Equal(t, frame.AwaitingFirstFrame, a.State())

	updates, err := collect(t, a, context.Background())
	require.NoError(t, err)

	assert.Equal(t, []frame.Update{
		{Role: "Assistant", Text: "Hel"},
		{Role: "Assistant", Text: "Hello"},
		{Role: "Assistant", Text: "Hello", Done: true},
	}, updates)
	assert.Equal(t, frame.Complete, a.State())
	assert.Equal(t, "Hello", a.Text())
	assert.Equal(t, 3, a.Frames())
}

func TestAssemblerSplitReads(t *testing.T) {
	stream := encodeAll(t,
		frame.Frame{Role: "Assistant", Text: "Grüße, "},
		frame.Frame{Role: "Assistant", Text: "wanderer ☃"},
		frame.Frame{Complete: true},
	)

	a := frame.NewAssembler(frame.NewStreamSource(iotest.OneByteReader(strings.NewReader(stream))))
	updates, err := collect(t, a, context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 3)
	assert.Equal(t, "Grüße, wanderer ☃", updates[2].Text)
	assert.True(t, updates[2].Done)
}

func TestAssemblerKeepsLastRole(t *testing.T) {
	src := &chunks{msgs: []string{
		`{"role_name":"Assistant","text_content":"a","streaming_complete":false}`,
		`{"role_name":"","text_content":"b","streaming_complete":false}`,
		`{"role_name":"","text_content":"","streaming_complete":true}`,
	}}

	a := frame.NewAssembler(frame.NewChunkSource(src))
	updates, err := collect(t, a, context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 3)
	for _, u := range updates {
		assert.Equal(t, "Assistant", u.Role)
	}
	assert.Equal(t, "Assistant", a.Role())
}

func TestAssemblerStopsAfterCompleteFrame(t *testing.T) {
	src := &chunks{msgs: []string{
		`{"role_name":"Assistant","text_content":"done","streaming_complete":true}`,
		`{"role_name":"Assistant","text_content":"ignored","streaming_complete":false}`,
	}}

	a := frame.NewAssembler(frame.NewChunkSource(src))
	updates, err := collect(t, a, context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "done", updates[0].Text)
	assert.Equal(t, 1, src.reads)
}

func TestAssemblerEmptyStream(t *testing.T) {
	a := frame.NewAssembler(frame.NewStreamSource(strings.NewReader("")))
	updates, err := collect(t, a, context.Background())
	require.NoError(t, err)
	assert.Empty(t, updates)
	assert.Equal(t, frame.Complete, a.State())
	assert.Empty(t, a.Text())
}

func TestAssemblerEndsWithoutCompleteFrame(t *testing.T) {
	stream := encodeAll(t, frame.Frame{Role: "Assistant", Text: "partial"})

	a := frame.NewAssembler(frame.NewStreamSource(strings.NewReader(stream)))
	updates, err := collect(t, a, context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.False(t, updates[0].Done)
	assert.Equal(t, frame.Complete, a.State())
}

func TestAssemblerFailures(t *testing.T) {
	boom := errors.New("connection reset by peer")

	tests := []struct {
		name        string
		src         *chunks
		wantKind    frame.Kind
		wantUpdates int
		wantReads   int
	}{
		{
			name: "Malformed frame stops reading",
			src: &chunks{msgs: []string{
				`{"role_name":"Assistant","text_content":"Hel","streaming_complete":false}`,
				`{"role_name":"Assistant","text_content":`,
				`{"role_name":"Assistant","text_content":"lo","streaming_complete":true}`,
			}},
			wantKind:    frame.KindMalformed,
			wantUpdates: 1,
			wantReads:   2,
		},
		{
			name: "Unexpected format",
			src: &chunks{msgs: []string{
				`{"text":"Hel"}`,
				`{"role_name":"Assistant","text_content":"lo","streaming_complete":true}`,
			}},
			wantKind:  frame.KindUnexpectedFormat,
			wantReads: 1,
		},
		{
			name: "Transport failure mid-reply",
			src: &chunks{
				msgs: []string{`{"role_name":"Assistant","text_content":"Hel","streaming_complete":false}`},
				err:  boom,
			},
			wantKind:    frame.KindTransport,
			wantUpdates: 1,
			wantReads:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := frame.NewAssembler(frame.NewChunkSource(tt.src))

			var updates, errs int
			var last error
			for _, err := range a.Updates(context.Background()) {
				if err != nil {
					errs++
					last = err
					continue
				}
				updates++
			}

			assert.Equal(t, 1, errs)
			assert.Equal(t, tt.wantKind, frame.KindOf(last), "error = %v", last)
			assert.Equal(t, tt.wantUpdates, updates)
			assert.Equal(t, tt.wantReads, tt.src.reads)
			assert.Equal(t, frame.Failed, a.State())
		})
	}
}

func TestAssemblerTransportErrorWrapsCause(t *testing.T) {
	boom := errors.New("unexpected EOF from upstream")
	src := &chunks{err: boom}

	_, err := collect(t, frame.NewAssembler(frame.NewChunkSource(src)), context.Background())
	require.Error(t, err)
	assert.True(t, frame.IsTransport(err))
	assert.ErrorIs(t, err, boom)
}

func TestAssemblerMalformedStreamDeliversEarlierFrames(t *testing.T) {
	stream := encodeAll(t, frame.Frame{Role: "Assistant", Text: "ok"}) + "{broken\n"

	a := frame.NewAssembler(frame.NewStreamSource(strings.NewReader(stream)))
	updates, err := collect(t, a, context.Background())
	require.Error(t, err)
	assert.True(t, frame.IsMalformed(err))
	require.Len(t, updates, 1)
	assert.Equal(t, "ok", updates[0].Text)
}

func TestAssemblerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &chunks{msgs: []string{
		`{"role_name":"Assistant","text_content":"a","streaming_complete":false}`,
		`{"role_name":"Assistant","text_content":"b","streaming_complete":false}`,
	}}

	a := frame.NewAssembler(frame.NewChunkSource(src))
	var updates int
	var last error
	for u, err := range a.Updates(ctx) {
		if err != nil {
			last = err
			break
		}
		updates++
		if u.Text == "a" {
			cancel()
		}
	}

	assert.Equal(t, 1, updates)
	assert.Equal(t, 1, src.reads)
	assert.True(t, frame.IsTransport(last))
	assert.ErrorIs(t, last, context.Canceled)
	assert.Equal(t, frame.Failed, a.State())
}

func TestAssemblerSingleUse(t *testing.T) {
	a := frame.NewAssembler(frame.NewStreamSource(strings.NewReader("")))
	_, err := collect(t, a, context.Background())
	require.NoError(t, err)

	_, err = collect(t, a, context.Background())
	assert.ErrorIs(t, err, frame.ErrAssembled)
	assert.Zero(t, frame.KindOf(err))
	assert.Equal(t, frame.Failed, a.State())
}

func TestLegacyChunks(t *testing.T) {
	// One Write per frame, no separators, as a server that relies on each write arriving alone.
	src := frame.NewChunkSource(frame.ReaderChunks(&writes{msgs: []string{
		`{"role_name":"Assistant","text_content":"Hi","streaming_complete":false}`,
		`{"role_name":"Assistant","text_content":"!","streaming_complete":true}`,
	}}))

	updates, err := collect(t, frame.NewAssembler(src), context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, frame.Update{Role: "Assistant", Text: "Hi!", Done: true}, updates[1])
}

// writes returns one message per Read call.
type writes struct {
	msgs []string
}

func (w *writes) Read(p []byte) (int, error) {
	if len(w.msgs) == 0 {
		return 0, io.EOF
	}
	n := copy(p, w.msgs[0])
	w.msgs = w.msgs[1:]
	return n, nil
}
