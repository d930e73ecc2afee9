// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket frame encoding/decoding and masking logic for high-throughput parsing.
//
// Decoding works on a caller-owned byte slice and never copies the payload;
// encoding appends to a caller-owned slice so buffers can come from a pool.

package protocol

import (
	"encoding/binary"
	"errors"
)

var (
	ErrInvalidOpcode     = errors.New("websocket: invalid opcode")
	ErrFrameTooLarge     = errors.New("websocket: frame payload too large")
	ErrProtocolViolation = errors.New("websocket: protocol violation")
)

// FrameHeader describes a complete frame found at the start of a buffer.
type FrameHeader struct {
	Fin           bool
	Opcode        Opcode
	Masked        bool
	Mask          [4]byte
	PayloadOffset int
	PayloadLen    int
	Total         int
}

// Payload returns the payload slice of buf described by h.
func (h FrameHeader) Payload(buf []byte) []byte {
	return buf[h.PayloadOffset : h.PayloadOffset+h.PayloadLen]
}

// TryParseFrame inspects buf for one complete frame.
// ok is false when more bytes are needed. maxPayload <= 0 selects
// MaxFramePayload.
func TryParseFrame(buf []byte, maxPayload int) (h FrameHeader, ok bool, err error) {
	if maxPayload <= 0 {
		maxPayload = MaxFramePayload
	}
	if len(buf) < 2 {
		return h, false, nil
	}
	b0, b1 := buf[0], buf[1]
	h.Fin = b0&FinBit != 0
	h.Opcode = Opcode(b0 & 0x0F)
	if !h.Opcode.valid() {
		return h, false, ErrInvalidOpcode
	}
	if b0&RsvBits != 0 {
		return h, false, ErrProtocolViolation
	}
	h.Masked = b1&MaskBit != 0

	offset := 2
	var length uint64
	switch l := b1 & 0x7F; l {
	case 126:
		if len(buf) < offset+2 {
			return h, false, nil
		}
		length = uint64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case 127:
		if len(buf) < offset+8 {
			return h, false, nil
		}
		length = binary.BigEndian.Uint64(buf[offset:])
		if length>>63 != 0 {
			return h, false, ErrProtocolViolation
		}
		offset += 8
	default:
		length = uint64(l)
	}

	if h.Opcode.IsControl() && (length > MaxControlPayloadLen || !h.Fin) {
		return h, false, ErrProtocolViolation
	}
	if length > uint64(maxPayload) {
		return h, false, ErrFrameTooLarge
	}

	if h.Masked {
		if len(buf) < offset+4 {
			return h, false, nil
		}
		copy(h.Mask[:], buf[offset:offset+4])
		offset += 4
	}

	h.PayloadOffset = offset
	h.PayloadLen = int(length)
	h.Total = offset + int(length)
	if len(buf) < h.Total {
		return h, false, nil
	}
	return h, true, nil
}

// UnmaskInPlace XORs buf with the repeating 4-byte mask, eight bytes at a
// time. Applying it twice restores the input.
func UnmaskInPlace(buf []byte, mask [4]byte) {
	k := uint64(binary.LittleEndian.Uint32(mask[:]))
	k |= k << 32
	i := 0
	for ; i+8 <= len(buf); i += 8 {
		v := binary.LittleEndian.Uint64(buf[i:])
		binary.LittleEndian.PutUint64(buf[i:], v^k)
	}
	for ; i < len(buf); i++ {
		buf[i] ^= mask[i&3]
	}
}

// AppendFrame appends a final, unmasked frame with the minimal length encoding.
func AppendFrame(dst []byte, op Opcode, payload []byte) []byte {
	dst = appendHeader(dst, op, len(payload))
	return append(dst, payload...)
}

// FrameSize returns the encoded size of a server frame carrying n bytes.
func FrameSize(n int) int {
	switch {
	case n <= 125:
		return 2 + n
	case n <= 0xFFFF:
		return 4 + n
	default:
		return 10 + n
	}
}

func appendHeader(dst []byte, op Opcode, n int) []byte {
	dst = append(dst, FinBit|byte(op))
	switch {
	case n <= 125:
		dst = append(dst, byte(n))
	case n <= 0xFFFF:
		dst = append(dst, 126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, 127)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}
	return dst
}

// AppendCloseFrame appends a close frame. A zero code sends an empty payload.
// The reason is truncated to fit a control frame.
func AppendCloseFrame(dst []byte, code uint16, reason string) []byte {
	if code == 0 {
		return appendHeader(dst, OpcodeClose, 0)
	}
	if len(reason) > MaxControlPayloadLen-2 {
		reason = reason[:MaxControlPayloadLen-2]
	}
	dst = appendHeader(dst, OpcodeClose, 2+len(reason))
	dst = binary.BigEndian.AppendUint16(dst, code)
	return append(dst, reason...)
}

// AppendPongFrame appends a pong echoing payload.
func AppendPongFrame(dst []byte, payload []byte) []byte {
	if len(payload) > MaxControlPayloadLen {
		payload = payload[:MaxControlPayloadLen]
	}
	return AppendFrame(dst, OpcodePong, payload)
}

// ParseClosePayload splits a close payload into code and reason.
// An empty payload yields CloseNoStatusRcvd.
func ParseClosePayload(p []byte) (code uint16, reason string) {
	if len(p) < 2 {
		return CloseNoStatusRcvd, ""
	}
	return binary.BigEndian.Uint16(p), string(p[2:])
}
