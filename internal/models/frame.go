package models

// FrameType discriminates the units of a streamed assistant reply.
type FrameType string

const (
	FrameTextDelta FrameType = "text-delta"
	FrameFinish    FrameType = "finish"
	FrameError     FrameType = "error"
)

const (
	FinishStop  = "stop"
	FinishError = "error"
)

// Frame is one unit on the wire between the agent adapter and the relay.
// Err is only set on FrameError and never serialised.
type Frame struct {
	Type         FrameType `json:"type"`
	Delta        string    `json:"textDelta,omitempty"`
	FinishReason string    `json:"finishReason,omitempty"`
	Message      string    `json:"message,omitempty"`
	Err          error     `json:"-"`
}

func TextDelta(s string) Frame {
	return Frame{Type: FrameTextDelta, Delta: s}
}

func Finish(reason string) Frame {
	return Frame{Type: FrameFinish, FinishReason: reason}
}

func ErrorFrame(err error) Frame {
	return Frame{Type: FrameError, Err: err}
}
