package web

import (
	"errors"
	"net/http"

	"github.com/zhouzirui/z-pay/client/internal/apiclient"
)

// UIKind 决定错误页展示的文案
type UIKind string

const (
	KindNotFound   UIKind = "NOT_FOUND"
	KindBadRequest UIKind = "BAD_REQUEST"
	KindUserError  UIKind = "USER_ERROR"
)

// UIKindOf 将类型化的 API 错误映射为页面文案类型
func UIKindOf(err error) UIKind {
	if apiclient.KindOf(err) == apiclient.KindRequest {
		return KindBadRequest
	}
	switch apiclient.StatusOf(err) {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindBadRequest
	default:
		return KindUserError
	}
}

// statusFor 错误页使用的状态码
func statusFor(err error) int {
	if errors.Is(err, apiclient.ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	switch UIKindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	}
	if status := apiclient.StatusOf(err); status >= 400 && status < 600 {
		return status
	}
	return http.StatusBadGateway
}

// errorCopy 每种类型的标题与提示
var errorCopy = map[UIKind]struct{ Heading, Hint string }{
	KindNotFound: {
		Heading: "We couldn't find that",
		Hint:    "The page or payment link may have been removed or mistyped.",
	},
	KindBadRequest: {
		Heading: "Please check your input",
		Hint:    "Some of the details you entered were not accepted.",
	},
	KindUserError: {
		Heading: "Something went wrong",
		Hint:    "The payment gateway did not complete the request. Try again in a moment.",
	},
}

// Message 返回展示给用户的错误文本
func Message(err error) string {
	if apiErr, ok := apiclient.AsError(err); ok && apiErr.Message != "" {
		return apiErr.Message
	}
	return "unexpected error"
}
