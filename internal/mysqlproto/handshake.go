package mysqlproto

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ErrMalformedHandshake flags a handshake packet too short or missing its
// required fields; the session cannot proceed.
var ErrMalformedHandshake = errors.New("malformed handshake packet")

// ClearServerCompressBit clears CLIENT_COMPRESS in a server greeting
// (HandshakeV10) payload, in place. The capability word sits after the
// NUL-terminated server version string:
//
//	payload[0]        protocol version
//	payload[1..NUL]   server version
//	+0  connection id   (4 bytes)
//	+4  auth data part1 (8 bytes)
//	+12 filler          (1 byte)
//	+13 capability low  (2 bytes)
//
// The compress bit lives in the low capability byte; the upper capability
// half never carries it.
func ClearServerCompressBit(payload []byte) error {
	if len(payload) < 2 {
		return ErrMalformedHandshake
	}
	nul := bytes.IndexByte(payload[1:], 0x00)
	if nul < 0 {
		return ErrMalformedHandshake
	}
	base := 1 + nul + 1
	capLow := base + 13
	if capLow+2 > len(payload) {
		return ErrMalformedHandshake
	}
	flags := binary.LittleEndian.Uint16(payload[capLow : capLow+2])
	flags &^= uint16(ClientCompress)
	binary.LittleEndian.PutUint16(payload[capLow:capLow+2], flags)
	return nil
}

// ClearClientCompressBit clears CLIENT_COMPRESS in a client handshake
// response payload, where the 4-byte capability word leads the packet.
func ClearClientCompressBit(payload []byte) error {
	if len(payload) < 4 {
		return ErrMalformedHandshake
	}
	flags := binary.LittleEndian.Uint32(payload[0:4])
	flags &^= ClientCompress
	binary.LittleEndian.PutUint32(payload[0:4], flags)
	return nil
}

// handshakeResponsePrefix is the fixed part of HandshakeResponse41 before
// the username: capability flags (4), max packet size (4), charset (1), and
// 23 reserved bytes.
const handshakeResponsePrefix = 4 + 4 + 1 + 23

// HandshakeUsername extracts the NUL-terminated username from a client
// handshake response payload. An absent terminator or an empty username is
// a protocol violation.
func HandshakeUsername(payload []byte) (string, error) {
	if len(payload) <= handshakeResponsePrefix {
		return "", ErrMalformedHandshake
	}
	rest := payload[handshakeResponsePrefix:]
	nul := bytes.IndexByte(rest, 0x00)
	if nul <= 0 {
		return "", ErrMalformedHandshake
	}
	return string(rest[:nul]), nil
}

// HandshakeUsesPassword reports whether the auth response following the
// username is non-empty, for the access-denied message's "using password"
// suffix.
func HandshakeUsesPassword(payload []byte) bool {
	if len(payload) <= handshakeResponsePrefix {
		return false
	}
	rest := payload[handshakeResponsePrefix:]
	nul := bytes.IndexByte(rest, 0x00)
	if nul < 0 || nul+1 >= len(rest) {
		return false
	}
	return rest[nul+1] != 0
}
