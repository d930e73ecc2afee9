// File: connection/request.go
// Author: momentics <momentics@gmail.com>
//
// HTTP/1.1 request head parsing over the connection read buffer.
// Parsed fields are offsets into the buffer; nothing is copied until a
// handler asks for strings.

package connection

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/momentics/hioload-app/api"
)

const (
	// MaxHeaders is the number of header fields accepted per request.
	MaxHeaders = 64
	// MaxHeaderBytes bounds the request line plus header section.
	MaxHeaderBytes = 64 << 10
)

var (
	errBadRequestLine   = errors.New("malformed request line")
	errBadHeader        = errors.New("malformed header field")
	errTooManyHeaders   = errors.New("too many header fields")
	errBadContentLength = errors.New("invalid Content-Length")
	errTransferEncoding = errors.New("unsupported Transfer-Encoding")
)

var crlfcrlf = []byte("\r\n\r\n")

type span struct{ off, n int }

func (s span) of(b []byte) []byte { return b[s.off : s.off+s.n] }

type headerSpan struct{ name, value span }

type request struct {
	parsed        bool
	headerLen     int
	method        span
	target        span
	headers       []headerSpan
	contentLength int
	keepAlive     bool
	malformed     bool
	tooLarge      bool
}

func (r *request) reset() {
	headers := r.headers[:0]
	*r = request{headers: headers}
}

// parse advances the request parser. It reports true when the request is
// ready for dispatch (including malformed or oversized requests, which are
// answered with an error). Unparseable input closes the connection.
func (c *Connection) parse() bool {
	if !c.req.parsed {
		idx := bytes.Index(c.rbuf, crlfcrlf)
		if idx < 0 {
			if len(c.rbuf) > MaxHeaderBytes {
				c.state = StateClosed
			}
			return false
		}
		if idx+4 > MaxHeaderBytes {
			c.state = StateClosed
			return false
		}
		if err := c.parseHead(idx); err != nil {
			c.state = StateClosed
			return false
		}
		c.req.headerLen = idx + 4
		c.req.parsed = true
		if c.req.malformed || c.req.tooLarge {
			return true
		}
	}
	if c.req.malformed || c.req.tooLarge {
		return true
	}
	return len(c.rbuf) >= c.req.headerLen+c.req.contentLength
}

// parseHead parses rbuf[:end], the request line and header lines without
// the terminating blank line.
func (c *Connection) parseHead(end int) error {
	r := &c.req
	r.keepAlive = true
	r.contentLength = 0
	buf := c.rbuf

	lineEnd := bytes.Index(buf[:end+2], []byte("\r\n"))
	if lineEnd <= 0 {
		return errBadRequestLine
	}
	line := buf[:lineEnd]
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return errBadRequestLine
	}
	sp2 := bytes.LastIndexByte(line, ' ')
	if sp2 <= sp1+1 {
		return errBadRequestLine
	}
	version := line[sp2+1:]
	if !bytes.HasPrefix(version, []byte("HTTP/1.")) || len(version) != 8 {
		return errBadRequestLine
	}
	r.method = span{0, sp1}
	r.target = span{sp1 + 1, sp2 - sp1 - 1}
	for _, b := range r.method.of(buf) {
		if !isTokenByte(b) {
			return errBadRequestLine
		}
	}
	if bytes.IndexByte(r.target.of(buf), ' ') >= 0 {
		return errBadRequestLine
	}
	if !utf8.Valid(r.target.of(buf)) {
		r.malformed = true
	}

	seenLength := false
	pos := lineEnd + 2
	for pos < end+2 {
		eol := bytes.Index(buf[pos:end+2], []byte("\r\n"))
		if eol < 0 {
			return errBadHeader
		}
		hl := buf[pos : pos+eol]
		if len(hl) == 0 {
			break
		}
		if hl[0] == ' ' || hl[0] == '\t' {
			return errBadHeader
		}
		colon := bytes.IndexByte(hl, ':')
		if colon <= 0 {
			return errBadHeader
		}
		for _, b := range hl[:colon] {
			if !isTokenByte(b) {
				return errBadHeader
			}
		}
		vs, ve := colon+1, len(hl)
		for vs < ve && (hl[vs] == ' ' || hl[vs] == '\t') {
			vs++
		}
		for ve > vs && (hl[ve-1] == ' ' || hl[ve-1] == '\t') {
			ve--
		}
		if len(r.headers) == MaxHeaders {
			return errTooManyHeaders
		}
		h := headerSpan{name: span{pos, colon}, value: span{pos + vs, ve - vs}}
		r.headers = append(r.headers, h)
		value := h.value.of(buf)
		if !utf8.Valid(value) {
			r.malformed = true
		}

		name := h.name.of(buf)
		switch {
		case asciiEqualFold(name, "Content-Length"):
			n, err := strconv.ParseInt(string(value), 10, 64)
			if err != nil || n < 0 || (seenLength && int(n) != r.contentLength) {
				return errBadContentLength
			}
			if n > int64(^uint(0)>>1)-int64(MaxHeaderBytes) {
				return errBadContentLength
			}
			seenLength = true
			r.contentLength = int(n)
		case asciiEqualFold(name, "Transfer-Encoding"):
			if !asciiEqualFold(value, "identity") {
				return errTransferEncoding
			}
		case asciiEqualFold(name, "Connection"):
			if hasToken(value, "close") {
				r.keepAlive = false
			}
		}
		pos += eol + 2
	}

	if c.opts.BodyLimit > 0 && int64(r.contentLength) > c.opts.BodyLimit {
		r.tooLarge = true
	}
	return nil
}

// Method returns the request method.
func (c *Connection) Method() string { return string(c.req.method.of(c.rbuf)) }

// Target returns the raw request target, including any query string.
func (c *Connection) Target() string { return string(c.req.target.of(c.rbuf)) }

// Path returns the target without the query string.
func (c *Connection) Path() string {
	t := c.req.target.of(c.rbuf)
	if i := bytes.IndexByte(t, '?'); i >= 0 {
		t = t[:i]
	}
	return string(t)
}

// RawQuery returns the query string without the leading '?'.
func (c *Connection) RawQuery() string {
	t := c.req.target.of(c.rbuf)
	if i := bytes.IndexByte(t, '?'); i >= 0 {
		return string(t[i+1:])
	}
	return ""
}

// Header returns the first value of the named header, case-insensitively.
func (c *Connection) Header(name string) string {
	for _, h := range c.req.headers {
		if asciiEqualFold(h.name.of(c.rbuf), name) {
			return string(h.value.of(c.rbuf))
		}
	}
	return ""
}

// Headers materializes all header fields in arrival order.
func (c *Connection) Headers() []api.Header {
	out := make([]api.Header, len(c.req.headers))
	for i, h := range c.req.headers {
		out[i] = api.Header{Name: string(h.name.of(c.rbuf)), Value: string(h.value.of(c.rbuf))}
	}
	return out
}

// Body returns the request body. The slice aliases the read buffer and is
// valid until Reset.
func (c *Connection) Body() []byte {
	if !c.req.parsed || c.req.contentLength == 0 || c.req.tooLarge {
		return nil
	}
	start := c.req.headerLen
	if start+c.req.contentLength > len(c.rbuf) {
		return nil
	}
	return c.rbuf[start : start+c.req.contentLength]
}

// ContentLength returns the declared body length.
func (c *Connection) ContentLength() int { return c.req.contentLength }

// Malformed reports a request that parsed structurally but carries invalid
// UTF-8 in its target or header values.
func (c *Connection) Malformed() bool { return c.req.malformed }

// TooLarge reports a Content-Length above the configured body limit.
func (c *Connection) TooLarge() bool { return c.req.tooLarge }

// SetResponse frames a response with the given status, body and content type.
func (c *Connection) SetResponse(status int, body []byte, contentType string) {
	c.WriteResponse(status, contentType, body, nil, false)
}

// WriteResponse frames a response into the write buffer and switches to
// StateWriting. omitBody keeps Content-Length but drops the body (HEAD).
// 1xx, 204 and 304 responses carry neither Content-Type nor Content-Length.
func (c *Connection) WriteResponse(status int, contentType string, body []byte, headers []api.Header, omitBody bool) {
	w := c.wbuf[:0]
	w = append(w, "HTTP/1.1 "...)
	w = strconv.AppendInt(w, int64(status), 10)
	w = append(w, ' ')
	w = append(w, statusText(status)...)
	w = append(w, "\r\n"...)
	bodyless := status < 200 || status == http.StatusNoContent || status == http.StatusNotModified
	if !bodyless {
		if contentType == "" {
			contentType = api.ContentTypeText
		}
		w = append(w, "Content-Type: "...)
		w = append(w, contentType...)
		w = append(w, "\r\nContent-Length: "...)
		w = strconv.AppendInt(w, int64(len(body)), 10)
		w = append(w, "\r\n"...)
	}
	for _, h := range headers {
		w = append(w, h.Name...)
		w = append(w, ": "...)
		w = append(w, h.Value...)
		w = append(w, "\r\n"...)
	}
	if c.KeepAlive() {
		w = append(w, "Connection: keep-alive\r\n\r\n"...)
	} else {
		w = append(w, "Connection: close\r\n\r\n"...)
	}
	if !bodyless && !omitBody {
		w = append(w, body...)
	}
	c.wbuf = w
	c.wpos = 0
	c.state = StateWriting
}

// SetRaw queues pre-framed bytes (the 101 upgrade response).
func (c *Connection) SetRaw(b []byte) {
	c.wbuf = append(c.wbuf[:0], b...)
	c.wpos = 0
	c.state = StateWriting
}

func statusText(code int) string {
	if t := http.StatusText(code); t != "" {
		return t
	}
	return "Unknown"
}

func isTokenByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	}
	switch b {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + 'a' - 'A'
	}
	return b
}

func asciiEqualFold(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := range b {
		if lower(b[i]) != lower(s[i]) {
			return false
		}
	}
	return true
}

// hasToken scans a comma separated list for token, case-insensitively.
func hasToken(v []byte, token string) bool {
	for len(v) > 0 {
		part := v
		if i := bytes.IndexByte(v, ','); i >= 0 {
			part, v = v[:i], v[i+1:]
		} else {
			v = nil
		}
		if asciiEqualFold(bytes.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
