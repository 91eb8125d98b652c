package service

import "errors"

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room full")
	ErrAlreadyInRoom  = errors.New("already in a room")
	ErrInternalServer = errors.New("internal server error")
)

// ErrorMessage 把业务错误映射为发送给客户端的可读文案。
// 未识别的错误一律按内部错误处理，不向客户端泄露细节。
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, ErrRoomFull):
		return "Room is full"
	case errors.Is(err, ErrAlreadyInRoom):
		return "Already in a room"
	default:
		return "Internal server error"
	}
}
