package mysqlproto

import (
	"io"
)

// Replies holds the pre-built synthetic reply packets for one socket. The
// buffers are constructed once and patched in place (sequence number, error
// number, message) before each send, so they must not be shared between
// sockets.
type Replies struct {
	ok       []byte
	emptySet []byte
	errPkt   []byte
}

// Byte offsets of the mutable fields.
const (
	seqPos         = 3
	errNumberPos   = 3 + 1 + 1
	errSQLStatePos = 3 + 1 + 1 + 2 + 1
	errMessagePos  = 3 + 1 + 1 + 2 + 1 + 5
)

// NewReplies builds the reply buffers.
func NewReplies() *Replies {
	return &Replies{
		// OK: affected rows 1, insert id 1, autocommit, no warnings.
		ok: []byte{
			0x07, 0x00, 0x00, // payload length
			0x01,                           // sequence number (patched)
			0x00,                           // OK marker
			0x01,                           // affected rows (lenenc)
			0x01,                           // insert id (lenenc)
			byte(StatusAutoCommit), 0x00, // server status
			0x00, 0x00, // warning count
		},
		// Empty result set: field count 1, one VAR_STRING descriptor, EOF,
		// no rows, EOF. Charset 0x00C0 and decimals 0x1F follow what a real
		// server puts on the wire.
		emptySet: []byte{
			// Field count packet.
			0x01, 0x00, 0x00,
			0x01, // sequence number
			0x01, // number of fields
			// Field descriptor packet.
			0x16, 0x00, 0x00,
			0x02,                // sequence number
			0x03, 'd', 'e', 'f', // catalog
			0x00,       // database (none)
			0x00,       // table (none)
			0x00,       // original table (none)
			0x00,       // name (none)
			0x00,       // original name (none)
			0x0c,       // filler
			0xc0, 0x00, // charset
			0x00, 0x00, 0x00, 0x00, // length
			FieldVarStr, // field type
			0x00, 0x00,  // field flags
			0x1f,       // decimals
			0x00, 0x00, // filler
			// EOF packet.
			0x05, 0x00, 0x00,
			0x03,
			EOFMarker,
			0x00, 0x00, // warning count
			byte(StatusAutoCommit), 0x00, // status flags
			// EOF packet (no row packets precede it).
			0x05, 0x00, 0x00,
			0x04,
			EOFMarker,
			0x00, 0x00,
			byte(StatusAutoCommit), 0x00,
		},
		// Generic error: errno 0x0428, SQL state 42000, empty message. The
		// payload length, errno, and message are patched per send.
		errPkt: []byte{
			0x00, 0x00, 0x00, // payload length (patched)
			0x00,       // sequence number (patched)
			ErrMarker,  // field count
			0x28, 0x04, // error number (patched)
			'#',                     // SQL state marker
			'4', '2', '0', '0', '0', // SQL state
		},
	}
}

// SendOK writes the OK acknowledgement with the given sequence number.
func (r *Replies) SendOK(w io.Writer, seq byte) error {
	r.ok[seqPos] = seq
	_, err := w.Write(r.ok)
	return err
}

// SendEmptySet writes the four-packet empty result set group. The group's
// sequence numbers are fixed at 1..4, following the single reply a server
// sends to a fresh command.
func (r *Replies) SendEmptySet(w io.Writer) error {
	_, err := w.Write(r.emptySet)
	return err
}

// SendError writes the generic error packet (errno 0x0428, state 42000, no
// message).
func (r *Replies) SendError(w io.Writer, seq byte) error {
	return r.SendErrorWith(w, seq, errUnknownDefault, "")
}

// SendErrorWith writes an error packet with a specific error number and
// message. The SQL state stays 42000 for the generic error; known errnos
// get their real state so clients map them correctly.
func (r *Replies) SendErrorWith(w io.Writer, seq byte, errno uint16, message string) error {
	pkt := r.errPkt[:errMessagePos]
	pkt = append(pkt, message...)

	payloadLen := len(pkt) - 4
	pkt[0] = byte(payloadLen)
	pkt[1] = byte(payloadLen >> 8)
	pkt[2] = byte(payloadLen >> 16)
	pkt[seqPos] = seq
	pkt[errNumberPos] = byte(errno)
	pkt[errNumberPos+1] = byte(errno >> 8)
	copy(pkt[errSQLStatePos:errMessagePos], SQLStateForErrno(errno))

	_, err := w.Write(pkt)
	return err
}
