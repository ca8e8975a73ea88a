package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error carries an HTTP status alongside the message so handlers can map
// failures onto responses without type switching at every call site.
type Error struct {
	Code    int    `json:"-"`
	Message string `json:"errMsg"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the response status for e, defaulting to 500.
func (e *Error) HTTPStatus() int {
	if e.Code == 0 {
		return http.StatusInternalServerError
	}
	return e.Code
}

// New 创建一个内部错误。
func New(message string) *Error {
	return &Error{Code: http.StatusInternalServerError, Message: message}
}

func newError(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return errors.As(err, target) }

var (
	ErrMediaNotFound  = newError(http.StatusNotFound, "media not found", nil)
	ErrAvatarNotFound = newError(http.StatusNotFound, "avatar not found", nil)
	ErrKeyNotFound    = newError(http.StatusNotFound, "data key not found", nil)
	ErrTalkerEmpty    = newError(http.StatusBadRequest, "talker is empty", nil)
)

func InvalidArg(name string) *Error {
	return newError(http.StatusBadRequest, fmt.Sprintf("invalid argument: %s", name), nil)
}

func QueryFailed(query string, cause error) *Error {
	if query == "" {
		return newError(http.StatusInternalServerError, "query failed", cause)
	}
	return newError(http.StatusInternalServerError, fmt.Sprintf("query failed: %s", query), cause)
}

func ScanRowFailed(cause error) *Error {
	return newError(http.StatusInternalServerError, "scan row failed", cause)
}

func DBInitFailed(cause error) *Error {
	return newError(http.StatusInternalServerError, "database init failed", cause)
}

func DBConnectFailed(path string, cause error) *Error {
	return newError(http.StatusInternalServerError, fmt.Sprintf("database connect failed: %s", path), cause)
}

func InitCacheFailed(cause error) *Error {
	return newError(http.StatusInternalServerError, "init cache failed", cause)
}

func MessageStoreNotFound(talker string) *Error {
	return newError(http.StatusNotFound, fmt.Sprintf("message store not found: %s", talker), nil)
}

func MediaTypeUnsupported(t string) *Error {
	return newError(http.StatusBadRequest, fmt.Sprintf("unsupported media type: %s", t), nil)
}

func DecodeKeyFailed(cause error) *Error {
	return newError(http.StatusBadRequest, "decode key failed", cause)
}

// BridgeUnavailable 表示实时桥接层不可用(进程未运行或连接失败)。
func BridgeUnavailable(cause error) *Error {
	return newError(http.StatusServiceUnavailable, "realtime bridge unavailable", cause)
}

func SyncFailed(account string, cause error) *Error {
	return newError(http.StatusInternalServerError, fmt.Sprintf("sync failed: %s", account), cause)
}
