// Package connection runs one task per accepted TCP socket: it turns a byte
// stream into typed packets for the router and the router's outbound
// packets back into bytes on the wire, built around packet.TryParse's
// buffer-and-retry contract and a bounded per-connection outbound channel.
package connection

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/pyr33x/goqttd/internal/broker"
	"github.com/pyr33x/goqttd/internal/er"
	"github.com/pyr33x/goqttd/internal/hook"
	"github.com/pyr33x/goqttd/internal/logger"
	"github.com/pyr33x/goqttd/internal/packet"
)

// connectTimeout bounds how long a socket may sit open before its first
// CONNECT must be fully parsed.
const connectTimeout = 30 * time.Second

const readChunk = 4096

// reader accumulates bytes read off conn and hands whole packets to the
// caller, refilling from the socket only when the buffer is short.
type reader struct {
	conn net.Conn
	buf  []byte
}

func newReader(conn net.Conn) *reader { return &reader{conn: conn} }

// next parses one packet from the accumulated buffer, reading more from the
// socket as needed — batching multiple queued packets per read when the
// socket delivers them together. It returns io-level errors from the
// underlying Read unchanged (including deadline-exceeded for keep-alive
// enforcement).
func (r *reader) next() (packet.Packet, error) {
	for {
		p, consumed, err := packet.TryParse(r.buf)
		if err == nil {
			r.buf = r.buf[consumed:]
			return p, nil
		}
		if !errors.Is(err, er.ErrInsufficientBytes) {
			return nil, err
		}
		chunk := make([]byte, readChunk)
		n, rerr := r.conn.Read(chunk)
		if n > 0 {
			r.buf = append(r.buf, chunk[:n]...)
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}

// Serve owns one accepted connection end-to-end: the CONNECT gate, auth,
// the router handshake, then the steady-state read/write loop. It returns
// once the connection is fully torn down; callers run it on its own
// goroutine, one per connection.
func Serve(ctx context.Context, conn net.Conn, inbound chan<- broker.Incoming, h hook.Hook, log *logger.Logger) {
	defer conn.Close()

	r := newReader(conn)

	conn.SetReadDeadline(time.Now().Add(connectTimeout))
	first, err := r.next()
	if err != nil {
		log.LogError(&er.Err{Context: "connect gate", Message: err}, "connection closed before CONNECT",
			logger.String("remote", conn.RemoteAddr().String()))
		return
	}
	connect, ok := first.(*packet.Connect)
	if !ok {
		log.LogError(&er.Err{Context: "connect gate", Message: er.ErrFirstPacketNotConnect}, "first packet was not CONNECT",
			logger.String("remote", conn.RemoteAddr().String()))
		return
	}

	if connect.ClientID == "" {
		if !connect.CleanSession {
			log.LogError(&er.Err{Context: "connect gate", Message: er.ErrClientIDNotAllowed}, "rejecting connect",
				logger.String("remote", conn.RemoteAddr().String()))
			writePacket(conn, &packet.ConnAck{ReturnCode: packet.IdentifierRejected})
			return
		}
		// The wire codec only parses; assigning an id for an anonymous
		// clean-session client is connection-level policy, not framing.
		connect.ClientID = uuid.NewString()
	}

	if !h.Authenticate(connect.Login) {
		log.LogError(&er.Err{Context: "connect gate", Message: er.ErrAuthFailed}, "denying connect", logger.ClientID(connect.ClientID))
		writePacket(conn, &packet.ConnAck{ReturnCode: packet.NotAuthorized})
		return
	}

	connTx := make(chan broker.Outgoing, broker.OutgoingChanCap)
	select {
	case inbound <- broker.IncomingConnect{Connect: connect, ConnTx: connTx}:
	case <-ctx.Done():
		return
	}

	ack, err := awaitConnAck(ctx, connTx)
	if err != nil {
		log.LogError(&er.Err{Context: "connect handshake", Message: er.ErrSendOutgoing}, "no connack from router",
			logger.ClientID(connect.ClientID))
		return
	}
	writePacket(conn, ack)
	log.LogMQTTPacket(ack.Type().String(), connect.ClientID, "outbound")
	h.Connected(connect.ClientID)
	log.LogClientConnection(connect.ClientID, conn.RemoteAddr().String(), "connected")

	keepAlive := time.Duration(float64(connect.KeepAlive) * 1.5 * float64(time.Second))

	done := make(chan struct{})
	go writeLoop(conn, connTx, done, connect.ClientID, log)

	abnormal := runReadLoop(conn, r, connect.ClientID, inbound, keepAlive, log)

	close(done)
	log.LogClientConnection(connect.ClientID, conn.RemoteAddr().String(), "disconnected", logger.Bool("abnormal", abnormal))
	select {
	case inbound <- broker.IncomingDisconnect{ClientID: connect.ClientID, ConnTx: connTx, Abnormal: abnormal}:
	case <-ctx.Done():
	}
}

// awaitConnAck blocks for the router's handshake reply. The router always
// sends exactly one before anything else on a fresh ConnTx, so the first
// message received here must be it.
func awaitConnAck(ctx context.Context, connTx chan broker.Outgoing) (*packet.ConnAck, error) {
	select {
	case ev := <-connTx:
		if data, ok := ev.(broker.OutgoingData); ok {
			if ack, ok := data.Packet.(*packet.ConnAck); ok {
				return ack, nil
			}
		}
		return nil, errors.New("unexpected first outgoing event")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runReadLoop answers PINGREQ locally, batches everything else into
// Incoming::Data, and enforces keep-alive. It returns true when the loop
// ended abnormally (anything other than a clean client DISCONNECT or the
// read failing with net.ErrClosed after writeLoop closed the socket on the
// router's OutgoingDisconnect; a plain io.EOF counts as abnormal).
func runReadLoop(conn net.Conn, r *reader, clientID string, inbound chan<- broker.Incoming, keepAlive time.Duration, log *logger.Logger) (abnormal bool) {
	for {
		if keepAlive > 0 {
			conn.SetReadDeadline(time.Now().Add(keepAlive))
		} else {
			conn.SetReadDeadline(time.Time{})
		}

		var batch []packet.Packet
		for {
			p, err := r.next()
			if err != nil {
				if len(batch) > 0 {
					flush(inbound, clientID, batch)
				}
				return classifyReadError(err, clientID, log)
			}

			log.LogMQTTPacket(p.Type().String(), clientID, "inbound")
			if _, isPing := p.(*packet.PingReq); isPing {
				writePacket(conn, &packet.PingResp{})
				continue
			}
			batch = append(batch, p)
			if _, isDisconnect := p.(*packet.Disconnect); isDisconnect {
				flush(inbound, clientID, batch)
				return false
			}
			if len(r.buf) == 0 {
				break
			}
		}
		if len(batch) > 0 {
			flush(inbound, clientID, batch)
		}
	}
}

// classifyReadError reports whether the socket's terminal error represents
// an abnormal disconnect (anything other than the router-initiated close)
// and logs the kind for diagnosis.
func classifyReadError(err error, clientID string, log *logger.Logger) bool {
	if errors.Is(err, net.ErrClosed) {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		log.LogError(&er.Err{Context: "read loop", Message: er.ErrKeepAlive}, "keep-alive timeout", logger.ClientID(clientID))
		return true
	}
	if errors.Is(err, io.EOF) {
		log.LogError(&er.Err{Context: "read loop", Message: er.ErrConnectionAborted}, "connection aborted", logger.ClientID(clientID))
		return true
	}
	log.LogError(&er.Err{Context: "read loop", Message: er.ErrConnectionReset}, "connection reset", logger.ClientID(clientID))
	return true
}

func flush(inbound chan<- broker.Incoming, clientID string, batch []packet.Packet) {
	inbound <- broker.IncomingData{ClientID: clientID, Packets: batch}
}

// writeLoop drains the router's outbound channel to the socket until told
// to stop, either by done closing or by the router requesting Disconnect.
// Packets queued back-to-back are appended to one write buffer and flushed
// together, so a fan-out burst costs one syscall instead of one per packet.
func writeLoop(conn net.Conn, connTx chan broker.Outgoing, done chan struct{}, clientID string, log *logger.Logger) {
	w := bufio.NewWriter(conn)
	for {
		select {
		case ev := <-connTx:
			for {
				data, ok := ev.(broker.OutgoingData)
				if !ok {
					w.Flush()
					conn.Close()
					return
				}
				w.Write(data.Packet.Encode())
				log.LogMQTTPacket(data.Packet.Type().String(), clientID, "outbound")

				select {
				case ev = <-connTx:
				default:
					ev = nil
				}
				if ev == nil {
					break
				}
			}
			w.Flush()
		case <-done:
			return
		}
	}
}

func writePacket(conn net.Conn, p packet.Packet) {
	_, _ = conn.Write(p.Encode())
}
