package chat

// Frame types exchanged over the chat socket.
const (
	FrameJoin     = "join"
	FrameLeave    = "leave"
	FrameMessage  = "message"
	FrameJoined   = "joined"
	FrameLeft     = "left"
	FramePresence = "presence"
	FrameKicked   = "kicked"
	FrameError    = "error"
)

// Presence events.
const (
	PresenceEntered = "entered"
	PresenceExited  = "exited"
)

// Frame is the JSON envelope for every chat socket message.
type Frame struct {
	Type    string `json:"type"`
	RoomID  int64  `json:"roomId,omitempty"`
	UserID  int64  `json:"userId,omitempty"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content,omitempty"`
	Event   string `json:"event,omitempty"`
	Error   string `json:"error,omitempty"`
	SentAt  int64  `json:"sentAt,omitempty"`
}
