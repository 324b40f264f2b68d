package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Response is the serialized error shape. Code doubles as the HTTP status.
type Response struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Cause   any    `json:"cause,omitempty"`
}

// Normalize coerces an arbitrary failure value into the taxonomy. Errors,
// strings, status codes and plain maps are understood; everything else
// becomes an internal error carrying the value as its cause. nil stays nil.
func Normalize(v any) *Error {
	switch x := v.(type) {
	case nil:
		return nil
	case *Error:
		return x
	case Response:
		return fromResponse(x)
	case *Response:
		if x == nil {
			return nil
		}
		return fromResponse(*x)
	case error:
		var e *Error
		if errors.As(x, &e) {
			return e
		}
		return &Error{Kind: KindInternal, Message: x.Error(), Cause: x}
	case string:
		return &Error{Kind: KindInternal, Message: x}
	case int:
		return fromCode(x)
	case int32:
		return fromCode(int(x))
	case int64:
		return fromCode(int(x))
	case float64:
		return fromCode(int(x))
	case map[string]any:
		return fromMap(x)
	default:
		return &Error{Kind: KindInternal, Message: fmt.Sprint(x), Cause: x}
	}
}

// ToResponse converts err into the serialized shape.
func ToResponse(err error) Response {
	e := Normalize(err)
	if e == nil {
		return Response{Message: http.StatusText(http.StatusInternalServerError), Code: http.StatusInternalServerError}
	}
	resp := Response{Message: e.Message, Code: e.Code()}
	if resp.Message == "" {
		resp.Message = http.StatusText(resp.Code)
	}
	switch c := e.Cause.(type) {
	case nil:
	case error:
		resp.Cause = c.Error()
	default:
		resp.Cause = c
	}
	return resp
}

func fromCode(code int) *Error {
	kind := KindForCode(code)
	msg := http.StatusText(code)
	if msg == "" {
		msg = http.StatusText(kind.Code())
	}
	return &Error{Kind: kind, Message: msg}
}

func fromResponse(r Response) *Error {
	e := fromCode(r.Code)
	if r.Message != "" {
		e.Message = r.Message
	}
	e.Cause = r.Cause
	return e
}

func fromMap(m map[string]any) *Error {
	e := &Error{Kind: KindInternal}
	switch code := m["code"].(type) {
	case int:
		e = fromCode(code)
	case int64:
		e = fromCode(int(code))
	case float64:
		e = fromCode(int(code))
	}
	if msg, ok := m["message"].(string); ok && msg != "" {
		e.Message = msg
	}
	if e.Message == "" {
		e.Message = http.StatusText(e.Code())
	}
	if cause, ok := m["cause"]; ok {
		e.Cause = cause
	} else if _, hasCode := m["code"]; !hasCode {
		if _, hasMsg := m["message"]; !hasMsg {
			e.Cause = m
		}
	}
	return e
}
