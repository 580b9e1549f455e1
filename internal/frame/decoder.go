package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decoder turns raw reply bytes into frames. It keeps the undecoded tail of a multi-byte UTF-8
// sequence that a chunk boundary split, and in line mode the text of a frame whose newline has
// not arrived yet. A Decoder belongs to a single stream and is not safe for concurrent use.
type Decoder struct {
	utf8    transform.Transformer
	partial []byte
	line    []byte
}

// NewDecoder returns a Decoder with empty state.
func NewDecoder() *Decoder {
	return &Decoder{utf8: unicode.UTF8.NewDecoder()}
}

// ReadNextFrame decodes chunk as exactly one frame. It is meant for transports that preserve
// message boundaries; a chunk holding zero, partial or several frames is malformed.
func (d *Decoder) ReadNextFrame(chunk []byte) (Frame, error) {
	if len(chunk) == 0 {
		return Frame{}, NewError(KindMalformed, "empty chunk where a frame was expected", nil)
	}
	text, err := d.decode(chunk)
	if err != nil {
		return Frame{}, err
	}
	return parseFrame(text)
}

// Feed decodes a chunk of a newline-delimited stream and returns the frames it completes. The
// bytes after the last newline stay buffered for the next call. Blank lines are skipped.
func (d *Decoder) Feed(chunk []byte) ([]Frame, error) {
	text, err := d.decode(chunk)
	if err != nil {
		return nil, err
	}
	d.line = append(d.line, text...)

	var frames []Frame
	consumed := 0
	for {
		i := bytes.IndexByte(d.line[consumed:], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(d.line[consumed : consumed+i])
		consumed += i + 1
		if len(line) == 0 {
			continue
		}
		f, err := parseFrame(line)
		if err != nil {
			d.line = nil
			return frames, err
		}
		frames = append(frames, f)
	}
	if consumed > 0 {
		d.line = append([]byte(nil), d.line[consumed:]...)
	}
	return frames, nil
}

// Flush ends a newline-delimited stream. A final line without a trailing newline is still a
// frame; ok is false when nothing was buffered.
func (d *Decoder) Flush() (f Frame, ok bool, err error) {
	if len(d.partial) > 0 {
		d.partial = nil
		return Frame{}, false, NewError(KindMalformed, "stream ended inside a UTF-8 sequence", nil)
	}
	line := bytes.TrimSpace(d.line)
	d.line = nil
	if len(line) == 0 {
		return Frame{}, false, nil
	}
	f, err = parseFrame(line)
	if err != nil {
		return Frame{}, false, err
	}
	return f, true, nil
}

// decode returns the text completed by chunk. An incomplete sequence at the end of the chunk is
// held back and prepended to the next one.
func (d *Decoder) decode(chunk []byte) ([]byte, error) {
	src := make([]byte, 0, len(d.partial)+len(chunk))
	src = append(append(src, d.partial...), chunk...)
	d.partial = nil

	dst := make([]byte, len(src))
	nDst, nSrc, err := d.utf8.Transform(dst, src, false)
	if err != nil && !errors.Is(err, transform.ErrShortSrc) {
		return nil, NewError(KindMalformed, "decode utf-8", err)
	}
	if !utf8.Valid(src[:nSrc]) {
		return nil, NewError(KindMalformed, "invalid utf-8", nil)
	}
	d.partial = append(d.partial, src[nSrc:]...)
	return dst[:nDst], nil
}

func parseFrame(data []byte) (Frame, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Frame{}, NewError(KindUnexpectedFormat, "frame is not a JSON object", err)
		}
		return Frame{}, NewError(KindMalformed, "invalid JSON", err)
	}
	if raw == nil {
		return Frame{}, NewError(KindUnexpectedFormat, "frame is null", nil)
	}

	var f Frame
	var err error
	if f.Role, err = stringField(raw, "role_name"); err != nil {
		return Frame{}, err
	}
	if f.Text, err = stringField(raw, "text_content"); err != nil {
		return Frame{}, err
	}
	if v, ok := raw["streaming_complete"]; ok {
		var complete *bool
		if err := json.Unmarshal(v, &complete); err != nil {
			return Frame{}, NewError(KindUnexpectedFormat, "field \"streaming_complete\" is not a boolean", err)
		}
		f.Complete = complete != nil && *complete
	}
	return f, nil
}

// stringField reads a required string field. null reads as the empty string.
func stringField(raw map[string]json.RawMessage, name string) (string, error) {
	v, ok := raw[name]
	if !ok {
		return "", NewError(KindUnexpectedFormat, fmt.Sprintf("missing field %q", name), nil)
	}
	var s *string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", NewError(KindUnexpectedFormat, fmt.Sprintf("field %q is not a string", name), err)
	}
	if s == nil {
		return "", nil
	}
	return *s, nil
}
