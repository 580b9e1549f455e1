package frame

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
)

// Assembler accumulates the text fragments of one reply. It is used once: Updates may only be
// ranged over a single time, by a single reader.
type Assembler struct {
	src    FrameSource
	state  State
	role   string
	text   strings.Builder
	frames int
}

// NewAssembler returns an Assembler reading from src.
func NewAssembler(src FrameSource) *Assembler {
	return &Assembler{src: src}
}

// Updates reads frames one at a time and yields the transcript after each of them. The sequence
// ends after a frame marked complete, when the source is exhausted, or with a single terminal
// error. An exhausted source with no frames ends the sequence without any update.
//
// ctx is checked before every read. An Assembler reads one reply; calling Updates again yields
// ErrAssembled.
func (a *Assembler) Updates(ctx context.Context) iter.Seq2[Update, error] {
	return func(yield func(Update, error) bool) {
		if a.state != AwaitingFirstFrame {
			a.state = Failed
			yield(Update{}, ErrAssembled)
			return
		}

		for {
			f, err := a.src.Next(ctx)
			if errors.Is(err, io.EOF) {
				a.state = Complete
				return
			}
			if err != nil {
				a.state = Failed
				yield(Update{}, asTransport("read frame", err))
				return
			}

			a.state = Streaming
			a.frames++
			if f.Role != "" {
				a.role = f.Role
			}
			a.text.WriteString(f.Text)
			if f.Complete {
				a.state = Complete
			}

			if !yield(Update{Role: a.role, Text: a.text.String(), Done: f.Complete}, nil) {
				return
			}
			if f.Complete {
				return
			}
		}
	}
}

// State returns the current lifecycle state.
func (a *Assembler) State() State {
	return a.state
}

// Text returns the transcript accumulated so far.
func (a *Assembler) Text() string {
	return a.text.String()
}

// Role returns the most recent non-empty sender role.
func (a *Assembler) Role() string {
	return a.role
}

// Frames returns the number of frames read.
func (a *Assembler) Frames() int {
	return a.frames
}
