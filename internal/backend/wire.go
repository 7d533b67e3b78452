package backend

// Realtime channel frame types. The same envelope is used in both
// directions: clients send subscribe/unsubscribe, the platform pushes
// change and error frames.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameChange      = "change"
	FrameError       = "error"
)

// Frame is the envelope for realtime channel traffic.
type Frame struct {
	Type   string        `json:"type"`
	Sub    string        `json:"sub,omitempty"`
	Filter *StreamFilter `json:"filter,omitempty"`
	Change *Change       `json:"change,omitempty"`
	Error  string        `json:"error,omitempty"`
}
