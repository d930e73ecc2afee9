// Package response
// Author: momentics <momentics@gmail.com>
//
// Maps handler return values to HTTP responses.

package response

import (
	"fmt"
	"strconv"

	"github.com/momentics/hioload-app/api"
)

// Encode converts a handler's return value into a response:
//
//	nil                          204, empty body
//	string                       200 text/plain
//	api.StatusMessage            its status, text/plain message
//	table {status=N, message=S}  same as api.StatusMessage
//	*api.Response                as given; Value is JSON-encoded
//	error                        500 text/plain error text
//	bool, integers, floats       200 text/plain
//	[]byte                       200 application/octet-stream
//	tables, maps, slices, other  200 application/json
//
// Values that cannot be encoded produce a 500 with a descriptive message.
func Encode(v any) api.Response {
	switch x := v.(type) {
	case nil:
		return api.Response{Status: 204}
	case string:
		return text(200, x)
	case api.StatusMessage:
		return text(x.Status, x.Message)
	case *api.StatusMessage:
		if x == nil {
			return api.Response{Status: 204}
		}
		return text(x.Status, x.Message)
	case *api.Response:
		if x == nil {
			return api.Response{Status: 204}
		}
		return finish(*x)
	case api.Response:
		return finish(x)
	case error:
		return text(500, x.Error())
	case bool:
		return text(200, strconv.FormatBool(x))
	case float32:
		return text(200, string(appendFloat(nil, float64(x), 32, false)))
	case float64:
		return text(200, string(appendFloat(nil, x, 64, false)))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return text(200, fmt.Sprint(x))
	case []byte:
		return api.Response{Status: 200, ContentType: "application/octet-stream", Body: x}
	case *api.Table:
		if sm, ok := statusMessageShape(x); ok {
			return text(sm.Status, sm.Message)
		}
	}
	return jsonResponse(200, v)
}

// Failure builds the 500 response for a handler or serialization error.
func Failure(err error) api.Response {
	return text(500, err.Error())
}

func text(status int, s string) api.Response {
	return api.Response{Status: status, ContentType: api.ContentTypeText, Body: []byte(s)}
}

func jsonResponse(status int, v any) api.Response {
	body, err := MarshalJSON(v)
	if err != nil {
		return Failure(err)
	}
	return api.Response{Status: status, ContentType: api.ContentTypeJSON, Body: body}
}

func finish(r api.Response) api.Response {
	if r.Status == 0 {
		r.Status = 200
	}
	if r.Body == nil && r.Value != nil {
		body, err := MarshalJSON(r.Value)
		if err != nil {
			return Failure(err)
		}
		r.Body = body
		if r.ContentType == "" {
			r.ContentType = api.ContentTypeJSON
		}
	}
	if r.ContentType == "" && len(r.Body) > 0 {
		r.ContentType = api.ContentTypeText
	}
	return r
}

// statusMessageShape recognizes a table holding exactly an integer status
// in the HTTP range and a string message.
func statusMessageShape(t *api.Table) (api.StatusMessage, bool) {
	if t.Len() != 2 {
		return api.StatusMessage{}, false
	}
	status, ok := t.Get("status").(int64)
	if !ok {
		switch s := t.Get("status").(type) {
		case int:
			status, ok = int64(s), true
		case float64:
			status, ok = int64(s), s == float64(int64(s))
		}
	}
	msg, isStr := t.Get("message").(string)
	if !ok || !isStr || status < 100 || status > 599 {
		return api.StatusMessage{}, false
	}
	return api.StatusMessage{Status: int(status), Message: msg}, true
}
