package broker

import (
	"time"

	"github.com/pyr33x/goqttd/internal/er"
	"github.com/pyr33x/goqttd/internal/packet"
)

// Session is per-client protocol state surviving across connections when
// CleanSession is false. It is owned exclusively by the router; every
// method here is only ever called from the router's event loop, so none of
// this needs its own locking — the router's single-owner loop is the only
// thing that ever touches a Session's fields.
type Session struct {
	ClientID     string
	CleanSession bool

	ConcreteSubs map[string]struct{}
	WildcardSubs map[string]Token

	OutboundUnacked map[uint16]*packet.Publish
	OutboundSentAt  map[uint16]time.Time
	InboundReceived map[uint16]struct{}
	ReleasePending  map[uint16]struct{}

	// pendingQoS2 holds the PUBLISH payload between PUBREC and PUBREL for an
	// inbound qos=2 message: the router only fans it out to subscribers once
	// PUBREL arrives.
	pendingQoS2 map[uint16]*packet.Publish

	Will *packet.Will

	ConnTx         chan Outgoing
	DisconnectedAt time.Time
}

func NewSession(clientID string, cleanSession bool) *Session {
	return &Session{
		ClientID:        clientID,
		CleanSession:    cleanSession,
		ConcreteSubs:    make(map[string]struct{}),
		WildcardSubs:    make(map[string]Token),
		OutboundUnacked: make(map[uint16]*packet.Publish),
		OutboundSentAt:  make(map[uint16]time.Time),
		InboundReceived: make(map[uint16]struct{}),
		ReleasePending:  make(map[uint16]struct{}),
		pendingQoS2:     make(map[uint16]*packet.Publish),
	}
}

// Live reports whether a connection currently owns this session.
func (s *Session) Live() bool { return s.ConnTx != nil }

// Send enqueues p on the session's outbound channel. A full channel means
// the subscriber is too slow; the router never blocks for it, so Send drops
// the delivery and reports it.
func (s *Session) Send(p packet.Packet) error {
	if s.ConnTx == nil {
		return &er.Err{Context: "session send", Message: er.ErrSendOutgoing}
	}
	select {
	case s.ConnTx <- OutgoingData{Packet: p}:
		return nil
	default:
		return &er.Err{Context: "session send, channel full", Message: er.ErrSendOutgoing}
	}
}

// PublishToSubscriber delivers p to this session per its QoS. QoS1/2 are
// recorded in OutboundUnacked as the resend set; the PUBLISH is sent
// immediately at every QoS level, as MQTT 3.1.1 §4.3.3 requires.
func (s *Session) PublishToSubscriber(p *packet.Publish) {
	if p.QoS > packet.QoS0 {
		s.OutboundUnacked[p.PacketID] = p
		s.OutboundSentAt[p.PacketID] = time.Now()
	}
	_ = s.Send(p)
}

// OnPubAck drops id from OutboundUnacked (QoS1 sender completion).
func (s *Session) OnPubAck(id uint16) {
	delete(s.OutboundUnacked, id)
	delete(s.OutboundSentAt, id)
}

// OnPubRec advances the QoS2 sender state machine: id is recorded in
// ReleasePending (it stays in OutboundUnacked until PUBCOMP) and a PUBREL is
// sent. Reports whether id was a message this session actually sent.
func (s *Session) OnPubRec(id uint16) bool {
	if _, ok := s.OutboundUnacked[id]; !ok {
		return false
	}
	s.ReleasePending[id] = struct{}{}
	_ = s.Send(&packet.PubRel{PacketID: id})
	return true
}

// OnPubComp completes the QoS2 sender state machine for id.
func (s *Session) OnPubComp(id uint16) {
	if _, ok := s.ReleasePending[id]; ok {
		delete(s.ReleasePending, id)
		delete(s.OutboundUnacked, id)
		delete(s.OutboundSentAt, id)
	}
}

// OnInboundPublish advances the QoS2 receiver state machine for a PUBLISH
// this session sent to us: id is recorded (idempotently) in InboundReceived
// and the packet is stashed for deferred dispatch on PUBREL. Reports whether
// this is a duplicate delivery of an id already pending.
func (s *Session) OnInboundPublish(p *packet.Publish) (dup bool) {
	if _, ok := s.InboundReceived[p.PacketID]; ok {
		return true
	}
	s.InboundReceived[p.PacketID] = struct{}{}
	s.pendingQoS2[p.PacketID] = p
	return false
}

// OnPubRel completes the QoS2 receiver state machine for id, returning the
// stashed PUBLISH for the router to fan out to subscribers (once) and
// whether id was actually pending.
func (s *Session) OnPubRel(id uint16) (*packet.Publish, bool) {
	if _, ok := s.InboundReceived[id]; !ok {
		return nil, false
	}
	delete(s.InboundReceived, id)
	p := s.pendingQoS2[id]
	delete(s.pendingQoS2, id)
	return p, true
}

// Attach installs a new outbound channel after (re)connect.
func (s *Session) Attach(connTx chan Outgoing) {
	s.ConnTx = connTx
	s.DisconnectedAt = time.Time{}
}

// ResendUnacked resends every still-unacknowledged outbound message with
// DUP set — used once, right after a session resumes on a new connection.
func (s *Session) ResendUnacked() {
	now := time.Now()
	for id, p := range s.OutboundUnacked {
		s.resendOne(id, p, now)
	}
}

// ResendDue resends unacknowledged outbound messages that have been waiting
// longer than after, used by the router's periodic retry tick.
func (s *Session) ResendDue(after time.Duration, now time.Time) {
	for id, p := range s.OutboundUnacked {
		if now.Sub(s.OutboundSentAt[id]) < after {
			continue
		}
		s.resendOne(id, p, now)
	}
}

// resendOne re-sends the PUBLISH (with DUP set) for a QoS1/2 in-flight
// message, or the PUBREL for one that has already progressed to
// release_pending.
func (s *Session) resendOne(id uint16, p *packet.Publish, now time.Time) {
	if _, releasing := s.ReleasePending[id]; releasing {
		_ = s.Send(&packet.PubRel{PacketID: id})
		s.OutboundSentAt[id] = now
		return
	}
	dup := *p
	dup.DUP = true
	_ = s.Send(&dup)
	s.OutboundSentAt[id] = now
}

// Detach marks the session as connection-less as of now, for the
// ineffective queue's eviction clock.
func (s *Session) Detach() {
	s.ConnTx = nil
	s.DisconnectedAt = time.Now()
}
