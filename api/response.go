// File: api/response.go
// Author: momentics <momentics@gmail.com>
//
// Response values a handler may return besides plain data.

package api

// Header is a single HTTP header field.
type Header struct {
	Name  string
	Value string
}

// StatusMessage is the "status + message" shape: a plain-text reply with
// an explicit status code.
type StatusMessage struct {
	Status  int
	Message string
}

// Response is a fully specified HTTP response.
// When Body is nil and Value is set, Value is JSON-encoded on write.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	Value       any
	Headers     []Header
}

// Content types used by the builders and the encoder.
const (
	ContentTypeText = "text/plain"
	ContentTypeJSON = "application/json"
	ContentTypeHTML = "text/html; charset=utf-8"
)

// JSON returns a response whose body is v encoded as JSON.
func JSON(status int, v any) *Response {
	return &Response{Status: status, ContentType: ContentTypeJSON, Value: v}
}

// Text returns a plain-text response.
func Text(status int, s string) *Response {
	return &Response{Status: status, ContentType: ContentTypeText, Body: []byte(s)}
}

// HTML returns a text/html response.
func HTML(status int, s string) *Response {
	return &Response{Status: status, ContentType: ContentTypeHTML, Body: []byte(s)}
}

// Redirect returns a redirect to location. Status defaults to 302.
func Redirect(status int, location string) *Response {
	if status == 0 {
		status = 302
	}
	return &Response{
		Status:  status,
		Body:    []byte{},
		Headers: []Header{{Name: "Location", Value: location}},
	}
}

// Empty returns a body-less response. Status defaults to 204.
func Empty(status int) *Response {
	if status == 0 {
		status = 204
	}
	return &Response{Status: status, Body: []byte{}}
}

// Raw returns body as-is with the given content type.
func Raw(status int, contentType string, body []byte) *Response {
	return &Response{Status: status, ContentType: contentType, Body: body}
}

// WithHeader appends a header and returns r.
func (r *Response) WithHeader(name, value string) *Response {
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
	return r
}
