package broker

import "github.com/pyr33x/goqttd/internal/packet"

// Channel capacities: Incoming is many-producer/single-consumer (every
// connection loop feeds the router); Outgoing is one per session,
// single-producer (the router) / single-consumer (that session's connection).
const (
	IncomingChanCap = 1000
	OutgoingChanCap = 1000
)

// Incoming is the tagged union of events a connection loop (or the acceptor,
// or a peer-RPC listener out of scope here) feeds into the router's single
// inbound channel.
type Incoming interface{ isIncoming() }

// IncomingConnect carries a parsed CONNECT plus the sender half of the new
// connection's outbound channel.
type IncomingConnect struct {
	Connect *packet.Connect
	ConnTx  chan Outgoing
}

// IncomingData carries zero or more non-CONNECT packets read off one
// connection, in wire order.
type IncomingData struct {
	ClientID string
	Packets  []packet.Packet
}

// IncomingDisconnect is sent by a connection loop on any termination,
// graceful or not — the router decides what that means for the session.
// ConnTx identifies which connection is terminating: if a session takeover
// has already replaced the session's channel with a newer one by the time
// this arrives, the router recognizes the mismatch and ignores the stale
// notification instead of archiving the live, newer connection.
type IncomingDisconnect struct {
	ClientID string
	ConnTx   chan Outgoing
	Abnormal bool
}

// IncomingTick is a router-internal event that runs the same QoS1/2 resend
// and ineffective-queue eviction pass as the router's own periodic ticker.
// It never crosses a connection boundary.
type IncomingTick struct{}

func (IncomingConnect) isIncoming()    {}
func (IncomingData) isIncoming()       {}
func (IncomingDisconnect) isIncoming() {}
func (IncomingTick) isIncoming()       {}

// Outgoing is the tagged union the router sends down a session's
// per-connection channel.
type Outgoing interface{ isOutgoing() }

// OutgoingData wraps one packet to be written to the socket.
type OutgoingData struct{ Packet packet.Packet }

// OutgoingDisconnect tells the connection loop to close after flushing.
type OutgoingDisconnect struct{}

func (OutgoingData) isOutgoing()       {}
func (OutgoingDisconnect) isOutgoing() {}
