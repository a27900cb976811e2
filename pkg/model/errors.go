package model

import "errors"

// Failure taxonomy shared by the realtime layer and the REST bridge.
// Event handlers map these onto "error" events sent back to the caller's
// socket; they never crash the connection.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrRoomNotFound    = errors.New("conversation not found")
	ErrNotAuthorized   = errors.New("you are not a participant in this conversation")
	ErrNotInRoom       = errors.New("you must join the room first")
	ErrUserNotFound    = errors.New("user not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrInvalidToken    = errors.New("invalid or expired token")
	ErrInvalidLogin    = errors.New("invalid email or password")
)
