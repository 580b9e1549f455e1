// Package frame implements the reply stream protocol shared by the chat server and its clients.
//
// A reply is a sequence of JSON frames, each carrying one fragment of the assistant's text and a
// completion flag. The server writes them newline-delimited; message-oriented transports such as
// WebSocket carry exactly one frame per message. An Assembler reads frames from a FrameSource and
// exposes the running transcript after every frame.
package frame

// ContentType is the media type of a newline-delimited frame stream.
const ContentType = "application/x-ndjson"

// Frame is one decoded unit of a streamed reply.
type Frame struct {
	Role     string `json:"role_name"`
	Text     string `json:"text_content"`
	Complete bool   `json:"streaming_complete"`
}

// Update is the view of a reply after one frame: the full text received so far and whether the
// reply has finished.
type Update struct {
	Role string
	Text string
	Done bool
}

// State is the lifecycle of one assembled reply.
type State int

// Assembler states. Streaming loops on every successful frame until the reply completes or fails.
const (
	AwaitingFirstFrame State = iota
	Streaming
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingFirstFrame:
		return "awaiting_first_frame"
	case Streaming:
		return "streaming"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
