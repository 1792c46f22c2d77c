package pipeline

import "errors"

// Operational errors reported back to the originating connection as error
// events. None of them terminate the connection.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrRoomNotFound     = errors.New("room not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrNotRoomMember    = errors.New("not an active member of this room")
	ErrInsufficientRole = errors.New("insufficient role")
	ErrNotMessageAuthor = errors.New("only the author can edit a message")
	ErrEditWindowClosed = errors.New("edit window has closed")

	// ErrSendFailed is the generic upstream failure. The user-facing text
	// stays non-specific so internal state never leaks.
	ErrSendFailed = errors.New("failed to send message")
)
