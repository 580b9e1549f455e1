package frame_test

import (
	"testing"

	"github.com/dndchat/lmchat/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadNextFrame(t *testing.T) {
	tests := []struct {
		name     string
		chunk    string
		want     frame.Frame
		wantKind frame.Kind
	}{
		{
			name:  "Complete frame",
			chunk: `{"role_name":"Assistant","text_content":"Hel","streaming_complete":false}`,
			want:  frame.Frame{Role: "Assistant", Text: "Hel"},
		},
		{
			name:  "Final frame",
			chunk: `{"role_name":"","text_content":"","streaming_complete":true}`,
			want:  frame.Frame{Complete: true},
		},
		{
			name:  "Missing completion flag reads as false",
			chunk: `{"role_name":"system","text_content":"Failed to send data"}`,
			want:  frame.Frame{Role: "system", Text: "Failed to send data"},
		},
		{
			name:  "Null text reads as empty",
			chunk: `{"role_name":"Assistant","text_content":null,"streaming_complete":null}`,
			want:  frame.Frame{Role: "Assistant"},
		},
		{
			name:     "Empty chunk",
			chunk:    "",
			wantKind: frame.KindMalformed,
		},
		{
			name:     "Invalid JSON",
			chunk:    `{"role_name":"Assistant","text_content":"Hel`,
			wantKind: frame.KindMalformed,
		},
		{
			name:     "Two frames in one chunk",
			chunk:    `{"role_name":"a","text_content":"x"}{"role_name":"a","text_content":"y"}`,
			wantKind: frame.KindMalformed,
		},
		{
			name:     "Invalid UTF-8",
			chunk:    "{\"role_name\":\"a\",\"text_content\":\"\xff\xfe\"}",
			wantKind: frame.KindMalformed,
		},
		{
			name:     "Array instead of object",
			chunk:    `["Hel"]`,
			wantKind: frame.KindUnexpectedFormat,
		},
		{
			name:     "Null frame",
			chunk:    `null`,
			wantKind: frame.KindUnexpectedFormat,
		},
		{
			name:     "Missing text",
			chunk:    `{"role_name":"Assistant","streaming_complete":true}`,
			wantKind: frame.KindUnexpectedFormat,
		},
		{
			name:     "Missing role",
			chunk:    `{"text_content":"Hel"}`,
			wantKind: frame.KindUnexpectedFormat,
		},
		{
			name:     "Wrong flag type",
			chunk:    `{"role_name":"a","text_content":"x","streaming_complete":"yes"}`,
			wantKind: frame.KindUnexpectedFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := frame.NewDecoder().ReadNextFrame([]byte(tt.chunk))
			if tt.wantKind != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, frame.KindOf(err), "error = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadNextFrameKeepsSplitRune(t *testing.T) {
	first := []byte(`{"role_name":"Assistant","text_content":"caf","streaming_complete":false}`)
	first = append(first, 0xC3) // lead byte of "é", continuation not yet arrived
	second := []byte(`{"role_name":"Assistant","text_content":"!","streaming_complete":true}`)

	dec := frame.NewDecoder()
	f, err := dec.ReadNextFrame(first)
	require.NoError(t, err)
	assert.Equal(t, "caf", f.Text)

	// The held back lead byte is prepended to the next chunk, where '{' cannot continue it.
	_, err = dec.ReadNextFrame(second)
	require.Error(t, err)
	assert.True(t, frame.IsMalformed(err))

	f, err = frame.NewDecoder().ReadNextFrame(second)
	require.NoError(t, err)
	assert.Equal(t, frame.Frame{Role: "Assistant", Text: "!", Complete: true}, f)
}

func TestFeedBuffersAcrossChunks(t *testing.T) {
	stream := "{\"role_name\":\"Assistant\",\"text_content\":\"hé\",\"streaming_complete\":false}\n" +
		"\n" +
		"{\"role_name\":\"Assistant\",\"text_content\":\"llo ☃\",\"streaming_complete\":true}\n"

	for size := 1; size <= len(stream); size++ {
		dec := frame.NewDecoder()
		var got []frame.Frame
		for start := 0; start < len(stream); start += size {
			end := min(start+size, len(stream))
			frames, err := dec.Feed([]byte(stream[start:end]))
			require.NoError(t, err, "chunk size %d", size)
			got = append(got, frames...)
		}
		_, ok, err := dec.Flush()
		require.NoError(t, err)
		assert.False(t, ok)

		require.Len(t, got, 2, "chunk size %d", size)
		assert.Equal(t, "hé", got[0].Text)
		assert.Equal(t, "llo ☃", got[1].Text)
		assert.True(t, got[1].Complete)
	}
}

func TestFlush(t *testing.T) {
	t.Run("Unterminated last line", func(t *testing.T) {
		dec := frame.NewDecoder()
		frames, err := dec.Feed([]byte(`{"role_name":"a","text_content":"x","streaming_complete":true}`))
		require.NoError(t, err)
		assert.Empty(t, frames)

		f, ok, err := dec.Flush()
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, f.Complete)
	})

	t.Run("Dangling UTF-8 sequence", func(t *testing.T) {
		dec := frame.NewDecoder()
		_, err := dec.Feed([]byte{0xe2, 0x98})
		require.NoError(t, err)

		_, _, err = dec.Flush()
		assert.True(t, frame.IsMalformed(err))
		assert.ErrorIs(t, err, frame.ErrMalformed)
		assert.NotErrorIs(t, err, frame.ErrUnexpectedFormat)
	})

	t.Run("Garbage tail", func(t *testing.T) {
		dec := frame.NewDecoder()
		_, err := dec.Feed([]byte(`{"role_name":`))
		require.NoError(t, err)

		_, _, err = dec.Flush()
		assert.True(t, frame.IsMalformed(err))
	})
}

func TestFeedKeepsFramesBeforeFailure(t *testing.T) {
	dec := frame.NewDecoder()
	frames, err := dec.Feed([]byte("{\"role_name\":\"a\",\"text_content\":\"x\"}\nnot json\n"))
	require.Error(t, err)
	assert.True(t, frame.IsMalformed(err))
	require.Len(t, frames, 1)
	assert.Equal(t, "x", frames[0].Text)
}
