// File: protocol/handshake.go
// Package protocol
// Server side of the WebSocket opening handshake: header validation,
// Sec-WebSocket-Accept computation and the 101 response.
package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"strings"
)

const (
	WebSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer    = "Sec-WebSocket-Version"
	RequiredWebSocketVersion = "13"
)

// HeaderGetter looks up a request header case-insensitively.
type HeaderGetter interface {
	Header(name string) string
}

// HandshakeError is a rejected upgrade. It maps to a fixed status and body.
type HandshakeError struct {
	status  int
	message string
}

func (e *HandshakeError) Error() string { return "websocket handshake: " + e.message }

// Status returns the HTTP status to answer with.
func (e *HandshakeError) Status() int { return e.status }

// Message returns the response body.
func (e *HandshakeError) Message() string { return e.message }

var (
	ErrMissingUpgradeHeader    = &HandshakeError{400, "Missing or invalid Upgrade header"}
	ErrMissingConnectionHeader = &HandshakeError{400, "Missing or invalid Connection header"}
	ErrMissingKey              = &HandshakeError{400, "Missing Sec-WebSocket-Key header"}
	ErrUnsupportedVersion      = &HandshakeError{426, "Unsupported WebSocket version (requires 13)"}
)

// IsUpgradeRequest reports whether the request carries an Upgrade header.
func IsUpgradeRequest(h HeaderGetter) bool {
	return h.Header(HeaderUpgrade) != ""
}

// ValidateUpgrade checks the upgrade headers in a fixed order and returns
// the client key. The returned error is always a *HandshakeError.
func ValidateUpgrade(h HeaderGetter) (string, error) {
	if !headerContainsToken(h.Header(HeaderUpgrade), "websocket") {
		return "", ErrMissingUpgradeHeader
	}
	if !headerContainsToken(h.Header(HeaderConnection), "upgrade") {
		return "", ErrMissingConnectionHeader
	}
	key := strings.TrimSpace(h.Header(HeaderSecWebSocketKey))
	if key == "" {
		return "", ErrMissingKey
	}
	if strings.TrimSpace(h.Header(HeaderSecWebSocketVer)) != RequiredWebSocketVersion {
		return "", ErrUnsupportedVersion
	}
	return key, nil
}

// ComputeAcceptKey derives Sec-WebSocket-Accept from the client key.
func ComputeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// AppendUpgradeResponse appends the 101 Switching Protocols response.
func AppendUpgradeResponse(dst []byte, accept string) []byte {
	dst = append(dst, "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: "...)
	dst = append(dst, accept...)
	return append(dst, "\r\n\r\n"...)
}

// headerContainsToken checks a comma separated header value for token.
func headerContainsToken(value, token string) bool {
	for value != "" {
		var part string
		part, value, _ = strings.Cut(value, ",")
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
