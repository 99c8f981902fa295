package proxy

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/sqlwarden/sqlwarden/internal/login"
	"github.com/sqlwarden/sqlwarden/internal/metrics"
	"github.com/sqlwarden/sqlwarden/internal/mysqlproto"
	"github.com/sqlwarden/sqlwarden/internal/sqlparse"
)

// session owns one client connection and its companion server connection.
// Two loops cooperate: the guard half inspects client packets before they
// reach the server, and the blocker half rewrites server packets before they
// reach the client. Either side closing or a framing violation ends both.
type session struct {
	client net.Conn
	server net.Conn

	analyzer *Analyzer
	logins   *login.Filter
	metrics  *metrics.Collector

	// Synthetic reply buffers are per-socket: each half mutates only its
	// own set before sending toward the client.
	guardReplies   *mysqlproto.Replies
	blockerReplies *mysqlproto.Replies

	// The guard publishes the last query's command type so the blocker can
	// shape its substitute for a server error.
	lastQueryType atomic.Int32
}

func newSession(client, server net.Conn, a *Analyzer, lf *login.Filter, m *metrics.Collector) *session {
	return &session{
		client:         client,
		server:         server,
		analyzer:       a,
		logins:         lf,
		metrics:        m,
		guardReplies:   mysqlproto.NewReplies(),
		blockerReplies: mysqlproto.NewReplies(),
	}
}

// run starts both halves and blocks until the session ends. The first half
// to fail closes both sockets; the other unblocks on its next read.
func (s *session) run() {
	done := make(chan struct{}, 2)
	go func() {
		s.guardLoop()
		s.closeBoth()
		done <- struct{}{}
	}()
	go func() {
		s.blockerLoop()
		s.closeBoth()
		done <- struct{}{}
	}()
	<-done
	<-done
}

func (s *session) closeBoth() {
	s.client.Close()
	s.server.Close()
}

func (s *session) setQueryType(t sqlparse.QueryType) {
	s.lastQueryType.Store(int32(t))
}

func (s *session) queryType() sqlparse.QueryType {
	return sqlparse.QueryType(s.lastQueryType.Load())
}

// guardLoop is the client-to-server half.
func (s *session) guardLoop() {
	handshakeSeen := false

	// Command assembly state: a payload of the maximum size continues in
	// the next packet; fragments are kept so a forwarded command goes out
	// in its original framing.
	var (
		assembling bool
		command    byte
		queryBuf   []byte
		fragments  []mysqlproto.Packet
	)

	for {
		pkt, err := mysqlproto.ReadPacket(s.client)
		if err != nil {
			s.logReadError("client", err)
			return
		}

		if !handshakeSeen {
			handshakeSeen = true
			if !s.handleHandshakeResponse(pkt) {
				return
			}
			continue
		}

		if !assembling {
			if pkt.Seq == 0 || len(fragments) == 0 {
				command = pkt.Command()
				queryBuf = queryBuf[:0]
				fragments = fragments[:0]
				if command == mysqlproto.ComQuery && len(pkt.Payload) > 1 {
					queryBuf = append(queryBuf, pkt.Payload[1:]...)
				}
			}
		} else {
			queryBuf = append(queryBuf, pkt.Payload...)
		}
		fragments = append(fragments, pkt)

		if len(pkt.Payload) == mysqlproto.MaxPayload {
			// More of this command follows.
			assembling = true
			continue
		}
		assembling = false

		if !s.dispatchCommand(command, string(queryBuf), fragments) {
			return
		}
		fragments = fragments[:0]
	}
}

// dispatchCommand handles one fully assembled client command. It returns
// false when the session must end.
func (s *session) dispatchCommand(command byte, query string, fragments []mysqlproto.Packet) bool {
	lastSeq := fragments[len(fragments)-1].Seq

	switch command {
	// Safe commands pass through untouched.
	case mysqlproto.ComInitDB,
		mysqlproto.ComStmtPrepare,
		mysqlproto.ComStmtClose,
		mysqlproto.ComStmtExecute,
		mysqlproto.ComStmtReset,
		mysqlproto.ComStmtFetch,
		mysqlproto.ComStmtSendLongData,
		mysqlproto.ComSetOption,
		mysqlproto.ComChangeUser,
		mysqlproto.ComRefresh,
		mysqlproto.ComBinlogDump,
		mysqlproto.ComRegisterSlave,
		mysqlproto.ComTableDump,
		mysqlproto.ComPing,
		mysqlproto.ComFieldList,
		mysqlproto.ComProcessInfo,
		mysqlproto.ComStatistics,
		mysqlproto.ComDebug:
		return s.forwardFragments(fragments)

	// Administrative commands a web application has no business sending:
	// absorb and answer with a plausible empty result.
	case mysqlproto.ComCreateDB,
		mysqlproto.ComDropDB,
		mysqlproto.ComProcessKill,
		mysqlproto.ComShutdown:
		slog.Warn("absorbed dangerous command", "command", command)
		return s.sendGuardReply(func() error {
			return s.guardReplies.SendEmptySet(s.client)
		})

	// Server-internal states that should never arrive from a client.
	case mysqlproto.ComSleep,
		mysqlproto.ComConnect,
		mysqlproto.ComTime,
		mysqlproto.ComDelayedInsert,
		mysqlproto.ComConnectOut:
		slog.Warn("rejected server-internal command", "command", command)
		return s.sendGuardReply(func() error {
			return s.guardReplies.SendError(s.client, lastSeq+1)
		})

	case mysqlproto.ComQuit:
		// Absorbed, never forwarded. Ending the guard loop here closes both
		// sockets at once rather than waiting for the client's own close;
		// the client was quitting either way.
		return false

	case mysqlproto.ComQuery:
		verdict := s.analyzer.Analyze(query)
		if !verdict.Dangerous {
			s.setQueryType(verdict.QueryType)
			return s.forwardFragments(fragments)
		}
		if verdict.Invalid {
			return s.sendGuardReply(func() error {
				return s.guardReplies.SendError(s.client, lastSeq+1)
			})
		}
		return s.sendBlockedReply(verdict.QueryType, lastSeq)

	default:
		slog.Error("unexpected client command code", "command", command)
		return s.forwardFragments(fragments)
	}
}

// sendBlockedReply substitutes the server's answer for a blocked query. The
// reply shape tracks the command type so the client sees a byte-for-byte
// plausible response.
func (s *session) sendBlockedReply(t sqlparse.QueryType, lastSeq byte) bool {
	switch t {
	case sqlparse.TypeSelect, sqlparse.TypeDescribe, sqlparse.TypeExplain, sqlparse.TypeShow:
		return s.sendGuardReply(func() error {
			return s.guardReplies.SendEmptySet(s.client)
		})
	case sqlparse.TypeInsert, sqlparse.TypeUpdate, sqlparse.TypeDelete,
		sqlparse.TypeSet, sqlparse.TypeTransaction, sqlparse.TypeLock, sqlparse.TypeUse:
		return s.sendGuardReply(func() error {
			return s.guardReplies.SendOK(s.client, lastSeq+1)
		})
	default:
		return s.sendGuardReply(func() error {
			return s.guardReplies.SendError(s.client, lastSeq+1)
		})
	}
}

func (s *session) sendGuardReply(send func() error) bool {
	if err := send(); err != nil {
		s.logWriteError("client", err)
		return false
	}
	return true
}

func (s *session) forwardFragments(fragments []mysqlproto.Packet) bool {
	for _, frag := range fragments {
		if err := mysqlproto.WriteRaw(s.server, frag); err != nil {
			s.logWriteError("server", err)
			return false
		}
	}
	return true
}

// handleHandshakeResponse validates the client's first packet: the username
// must be present and pass the login filter, and the capability word is
// rewritten so neither side negotiates compression.
func (s *session) handleHandshakeResponse(pkt mysqlproto.Packet) bool {
	username, err := mysqlproto.HandshakeUsername(pkt.Payload)
	if err != nil {
		slog.Warn("malformed handshake response", "err", err)
		s.guardReplies.SendError(s.client, pkt.Seq+1)
		return false
	}

	host := peerHost(s.client)
	if s.logins != nil && !s.logins.Allowed(username, host) {
		if s.metrics != nil {
			s.metrics.LoginRejected()
		}
		msg := "Access denied for user '" + username + "'@'" + host + "' (using password: "
		if mysqlproto.HandshakeUsesPassword(pkt.Payload) {
			msg += "YES)"
		} else {
			msg += "NO)"
		}
		slog.Warn("login rejected", "user", username, "host", host)
		s.guardReplies.SendErrorWith(s.client, pkt.Seq+1, mysqlproto.ErrAccessDenied, msg)
		return false
	}

	if err := mysqlproto.ClearClientCompressBit(pkt.Payload); err != nil {
		slog.Error("unable to clear client compression bit", "err", err)
	}
	if err := mysqlproto.WriteRaw(s.server, pkt); err != nil {
		s.logWriteError("server", err)
		return false
	}
	slog.Debug("session authenticated", "user", username, "host", host)
	return true
}

// blockerLoop is the server-to-client half: it forwards everything except
// error results, which are replaced so the server's diagnostics never reach
// the client.
func (s *session) blockerLoop() {
	firstPacket := true
	for {
		pkt, err := mysqlproto.ReadPacket(s.server)
		if err != nil {
			s.logReadError("server", err)
			return
		}

		// The server's first packet is the handshake initialisation; clear
		// the compression capability before the client sees it.
		if firstPacket {
			firstPacket = false
			if err := mysqlproto.ClearServerCompressBit(pkt.Payload); err != nil {
				slog.Error("unable to clear server compression bit", "err", err)
			}
			if err := mysqlproto.WriteRaw(s.client, pkt); err != nil {
				s.logWriteError("client", err)
				return
			}
			continue
		}

		if len(pkt.Payload) > 0 && pkt.Payload[0] == mysqlproto.ErrMarker {
			s.suppressServerError(pkt)
			continue
		}

		if err := mysqlproto.WriteRaw(s.client, pkt); err != nil {
			s.logWriteError("client", err)
			return
		}
	}
}

// suppressServerError logs the original error and sends a synthetic reply
// shaped after the last command the guard saw.
func (s *session) suppressServerError(pkt mysqlproto.Packet) {
	errno, message := parseServerError(pkt.Payload)
	slog.Warn("suppressed server error",
		"errno", errno,
		"sqlstate", mysqlproto.SQLStateForErrno(errno),
		"message", message,
	)
	if s.metrics != nil {
		s.metrics.ServerErrorSuppressed()
	}

	var err error
	switch s.queryType() {
	case sqlparse.TypeSelect, sqlparse.TypeDescribe, sqlparse.TypeExplain, sqlparse.TypeShow:
		err = s.blockerReplies.SendEmptySet(s.client)
	case sqlparse.TypeInsert, sqlparse.TypeUpdate, sqlparse.TypeDelete,
		sqlparse.TypeSet, sqlparse.TypeTransaction, sqlparse.TypeLock, sqlparse.TypeUse:
		err = s.blockerReplies.SendOK(s.client, pkt.Seq)
	default:
		err = s.blockerReplies.SendError(s.client, pkt.Seq)
	}
	if err != nil {
		s.logWriteError("client", err)
	}
}

// parseServerError pulls the errno and message out of an ERR packet:
// 0xFF, errno (2 bytes LE), '#', 5-byte SQL state, message.
func parseServerError(payload []byte) (uint16, string) {
	if len(payload) < 3 {
		return 0, ""
	}
	errno := uint16(payload[1]) | uint16(payload[2])<<8
	if len(payload) >= 9 && payload[3] == '#' {
		return errno, string(payload[9:])
	}
	if len(payload) > 3 {
		return errno, string(payload[3:])
	}
	return errno, ""
}

func (s *session) logReadError(side string, err error) {
	if isExpectedClose(err) {
		slog.Debug("connection closed", "side", side)
		return
	}
	if errors.Is(err, mysqlproto.ErrPacketTooLarge) {
		slog.Warn("framing violation, closing session", "side", side, "err", err)
		return
	}
	slog.Warn("read error", "side", side, "err", err)
}

func (s *session) logWriteError(side string, err error) {
	if isExpectedClose(err) {
		slog.Debug("connection closed during write", "side", side)
		return
	}
	slog.Warn("write error", "side", side, "err", err)
}

func isExpectedClose(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// peerHost returns the remote address without its port, matching the host
// column format of the privilege table.
func peerHost(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
