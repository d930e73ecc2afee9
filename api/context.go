// File: api/context.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-request context handed to HTTP handlers and middleware, and the
// connection context handed to WebSocket handlers.

package api

import (
	"net/url"
	"strings"
	"unicode/utf8"

	json "github.com/goccy/go-json"
)

// Param is a decoded path parameter.
type Param struct {
	Name  string
	Value string
}

// RequestContext exposes a parsed HTTP request to handlers.
// It is valid only for the duration of the handler call chain.
type RequestContext struct {
	Method   string
	Path     string
	RawQuery string
	ConnID   string
	IsHead   bool

	headers []Header
	params  []Param
	body    []byte
	query   map[string]string
	values  map[string]any
}

// NewRequestContext builds a context. Slices are retained, not copied.
func NewRequestContext(method, path, rawQuery string, headers []Header, params []Param, body []byte) *RequestContext {
	return &RequestContext{
		Method:   method,
		Path:     path,
		RawQuery: rawQuery,
		headers:  headers,
		params:   params,
		body:     body,
	}
}

// Header returns the first value of the named header, matched case-insensitively.
func (c *RequestContext) Header(name string) string {
	for _, h := range c.headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Headers returns all headers keyed by lower-cased name.
// Repeated headers are joined with ", ".
func (c *RequestContext) Headers() map[string]string {
	out := make(map[string]string, len(c.headers))
	for _, h := range c.headers {
		k := strings.ToLower(h.Name)
		if prev, ok := out[k]; ok {
			out[k] = prev + ", " + h.Value
			continue
		}
		out[k] = h.Value
	}
	return out
}

// Query returns decoded query parameters; the first value wins for repeated keys.
func (c *RequestContext) Query() map[string]string {
	if c.query != nil {
		return c.query
	}
	c.query = make(map[string]string)
	if c.RawQuery == "" {
		return c.query
	}
	vals, err := url.ParseQuery(c.RawQuery)
	if err != nil && len(vals) == 0 {
		return c.query
	}
	for k, v := range vals {
		if len(v) > 0 {
			c.query[k] = v[0]
		}
	}
	return c.query
}

// QueryValue returns a single query parameter.
func (c *RequestContext) QueryValue(name string) string {
	return c.Query()[name]
}

// Param returns the named path parameter.
func (c *RequestContext) Param(name string) string {
	for _, p := range c.params {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

// Params returns all path parameters.
func (c *RequestContext) Params() map[string]string {
	out := make(map[string]string, len(c.params))
	for _, p := range c.params {
		out[p.Name] = p.Value
	}
	return out
}

// Body returns the request body as text.
func (c *RequestContext) Body() (string, error) {
	if len(c.body) == 0 {
		return "", ErrNoBody
	}
	if !utf8.Valid(c.body) {
		return "", WrapError(ErrCodeMalformedRequest, "request body", ErrInvalidUTF8)
	}
	return string(c.body), nil
}

// BodyBytes returns the raw body. The slice aliases the connection buffer.
func (c *RequestContext) BodyBytes() []byte { return c.body }

// JSON decodes the body into v.
func (c *RequestContext) JSON(v any) error {
	if len(c.body) == 0 {
		return ErrNoBody
	}
	if err := json.Unmarshal(c.body, v); err != nil {
		return WrapError(ErrCodeMalformedRequest, "decode request body", err)
	}
	return nil
}

// Set stores a value shared between middleware and the handler.
func (c *RequestContext) Set(key string, v any) {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = v
}

// Get returns a value stored with Set.
func (c *RequestContext) Get(key string) any {
	return c.values[key]
}

// WsContext is handed to WebSocket join, event and leave handlers.
// Delivery methods address the connection whose event is being handled.
type WsContext interface {
	// ConnID returns the connection's unique id.
	ConnID() string
	// Params returns the path parameters captured at upgrade time.
	Params() map[string]string
	// Send delivers an event to the current connection only.
	Send(event string, data any) error
	// Broadcast delivers to every connection of the current endpoint.
	Broadcast(event string, data any) error
	// Except delivers to every connection of the endpoint except the current one.
	Except(event string, data any) error
	// Publish delivers to every subscriber of topic.
	Publish(topic, event string, data any) error
	// Listen subscribes the current connection to topic.
	Listen(topic string)
	// Unlisten removes the subscription, if any.
	Unlisten(topic string)
	// Reject closes the current connection with a close frame.
	Reject(code uint16, reason string)
}
