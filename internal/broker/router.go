package broker

import (
	"context"
	"time"

	"github.com/pyr33x/goqttd/internal/er"
	"github.com/pyr33x/goqttd/internal/hook"
	"github.com/pyr33x/goqttd/internal/logger"
	"github.com/pyr33x/goqttd/internal/packet"
	"github.com/pyr33x/goqttd/internal/topic"
)

// resendInterval is how long an unacknowledged QoS1/2 outbound message
// waits before the router resends it with DUP set.
const resendInterval = 20 * time.Second

// tickInterval drives both resend checks and ineffective-queue eviction.
const tickInterval = 10 * time.Second

// ineffectiveEntry is one FIFO entry of disconnected-but-retained sessions.
type ineffectiveEntry struct {
	clientID string
	at       time.Time
}

// Router is the single task owning every session, the subscription index,
// and the retained store. No field here is ever touched from outside Run's
// goroutine — that is the whole point of routing every mutation through one
// Incoming channel instead of guarding shared state with locks.
type Router struct {
	sessions map[string]*Session
	index    *SubscriptionIndex
	retained *retainedStore

	ineffective    []ineffectiveEntry
	expireInterval time.Duration

	hook hook.Hook
	log  *logger.Logger

	incoming chan Incoming
}

func NewRouter(h hook.Hook, expireInterval time.Duration, log *logger.Logger) *Router {
	if h == nil {
		h = hook.Noop{}
	}
	return &Router{
		sessions:       make(map[string]*Session),
		index:          NewSubscriptionIndex(),
		retained:       newRetainedStore(),
		expireInterval: expireInterval,
		hook:           h,
		log:            log,
		incoming:       make(chan Incoming, IncomingChanCap),
	}
}

// Inbound returns the sender half of the router's event channel, handed to
// the acceptor and cloned into every connection loop.
func (r *Router) Inbound() chan<- Incoming { return r.incoming }

// Run processes events until ctx is cancelled. It is meant to run on its own
// goroutine — exactly one, for the broker's lifetime.
func (r *Router) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.incoming:
			r.dispatch(ev)
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Router) dispatch(ev Incoming) {
	switch e := ev.(type) {
	case IncomingConnect:
		r.handleConnect(e)
	case IncomingData:
		r.handleData(e)
	case IncomingDisconnect:
		r.handleDisconnect(e)
	case IncomingTick:
		r.tick()
	}
}

func (r *Router) tick() {
	now := time.Now()
	for _, s := range r.sessions {
		if s.Live() {
			s.ResendDue(resendInterval, now)
		}
	}
	r.evictExpired(now)
	r.log.LogPerformance("sessions", len(r.sessions), "count")
	r.log.LogPerformance("ineffective_queue", len(r.ineffective), "count")
}

// handleConnect processes a CONNECT in order: takeover, clean/resume
// decision, ineffective-queue removal, ConnAck, then resend.
func (r *Router) handleConnect(e IncomingConnect) {
	clientID := e.Connect.ClientID
	existing, had := r.sessions[clientID]
	sessionPresent := false

	if had {
		if existing.Live() {
			select {
			case existing.ConnTx <- OutgoingDisconnect{}:
			default:
			}
		}
		if e.Connect.CleanSession {
			r.removeSubscriptions(existing)
			delete(r.sessions, clientID)
			had = false
		} else {
			sessionPresent = true
		}
	}
	r.removeIneffective(clientID)

	var sess *Session
	if had {
		sess = existing
	} else {
		sess = NewSession(clientID, e.Connect.CleanSession)
	}
	sess.Will = e.Connect.Will
	sess.Attach(e.ConnTx)

	select {
	case e.ConnTx <- OutgoingData{Packet: &packet.ConnAck{SessionPresent: sessionPresent, ReturnCode: packet.Accepted}}:
	default:
		r.log.LogError(&er.Err{Context: "connack", Message: er.ErrSendOutgoing}, "connack dropped, outbound full", logger.ClientID(clientID))
	}

	r.sessions[clientID] = sess
	if had {
		sess.ResendUnacked()
	}
	r.evictExpired(time.Now())
	r.log.LogClientConnection(clientID, "", "connected", logger.Bool("session_present", sessionPresent))
}

func (r *Router) handleData(e IncomingData) {
	sess, ok := r.sessions[e.ClientID]
	if !ok {
		r.log.LogError(&er.Err{Context: "router dispatch", Message: er.ErrSessionNotFound}, "data for unknown session", logger.ClientID(e.ClientID))
		return
	}
	for _, p := range e.Packets {
		r.log.LogMQTTPacket(p.Type().String(), sess.ClientID, "inbound")
		r.handlePacket(sess, p)
	}
}

func (r *Router) handlePacket(sess *Session, p packet.Packet) {
	switch pkt := p.(type) {
	case *packet.Subscribe:
		r.handleSubscribe(sess, pkt)
	case *packet.Unsubscribe:
		r.handleUnsubscribe(sess, pkt)
	case *packet.Publish:
		r.handlePublish(sess, pkt)
	case *packet.PubAck:
		sess.OnPubAck(pkt.PacketID)
		r.log.LogQoSFlow(sess.ClientID, pkt.PacketID, int(packet.QoS1), "PUBACK_RECEIVED")
	case *packet.PubRec:
		sess.OnPubRec(pkt.PacketID)
		r.log.LogQoSFlow(sess.ClientID, pkt.PacketID, int(packet.QoS2), "PUBREC_RECEIVED")
	case *packet.PubRel:
		r.handlePubRel(sess, pkt)
	case *packet.PubComp:
		sess.OnPubComp(pkt.PacketID)
		r.log.LogQoSFlow(sess.ClientID, pkt.PacketID, int(packet.QoS2), "PUBCOMP_RECEIVED")
	case *packet.Disconnect:
		r.handleClientDisconnect(sess)
	default:
		r.log.LogError(&er.Err{Context: "router dispatch", Message: er.ErrUnexpectedPacket}, "unexpected packet type from client", logger.ClientID(sess.ClientID))
	}
}

func (r *Router) handleSubscribe(sess *Session, sub *packet.Subscribe) {
	codes := make([]byte, len(sub.Filters))
	for i, f := range sub.Filters {
		if !topic.ValidFilter(f.Filter) {
			r.log.LogError(&er.Err{Context: "subscribe filter " + f.Filter, Message: er.ErrInvalidSubFilter},
				"rejecting subscribe filter", logger.ClientID(sess.ClientID))
			codes[i] = packet.SubAckFailure
			continue
		}
		r.addSubscription(sess, f.Filter)
		codes[i] = subAckCodeFor(f.QoS)
		r.log.LogSubscription(sess.ClientID, f.Filter, int(f.QoS), "subscribe")
		for _, retained := range r.retained.Match(f.Filter) {
			cp := *retained
			cp.QoS = minQoS(retained.QoS, f.QoS)
			if cp.QoS > packet.QoS0 {
				cp.PacketID = nextPacketID(sess)
			} else {
				cp.PacketID = 0
			}
			sess.PublishToSubscriber(&cp)
			r.log.LogRetainedMessage(cp.Topic, "delivered", len(cp.Payload))
		}
	}
	_ = sess.Send(&packet.SubAck{PacketID: sub.PacketID, ReturnCodes: codes})
}

func (r *Router) addSubscription(sess *Session, filter string) {
	if topic.IsWildcard(filter) {
		if _, already := sess.WildcardSubs[filter]; already {
			return
		}
		sess.WildcardSubs[filter] = r.index.Insert(filter, sess.ClientID)
		return
	}
	if _, already := sess.ConcreteSubs[filter]; already {
		return
	}
	sess.ConcreteSubs[filter] = struct{}{}
	r.index.AddExact(filter, sess.ClientID)
}

func (r *Router) handleUnsubscribe(sess *Session, unsub *packet.Unsubscribe) {
	for _, filter := range unsub.Filters {
		if tok, ok := sess.WildcardSubs[filter]; ok {
			r.index.Remove(filter, tok)
			delete(sess.WildcardSubs, filter)
			r.log.LogSubscription(sess.ClientID, filter, 0, "unsubscribe")
			continue
		}
		if _, ok := sess.ConcreteSubs[filter]; ok {
			r.index.RemoveExact(filter, sess.ClientID)
			delete(sess.ConcreteSubs, filter)
			r.log.LogSubscription(sess.ClientID, filter, 0, "unsubscribe")
		}
	}
	_ = sess.Send(&packet.UnsubAck{PacketID: unsub.PacketID})
}

func (r *Router) handlePublish(sess *Session, p *packet.Publish) {
	if p.Retain {
		r.retained.Apply(p)
		r.log.LogRetainedMessage(p.Topic, "stored", len(p.Payload))
	}

	switch p.QoS {
	case packet.QoS0:
		r.fanOut(p)
	case packet.QoS1:
		_ = sess.Send(&packet.PubAck{PacketID: p.PacketID})
		r.log.LogQoSFlow(sess.ClientID, p.PacketID, int(packet.QoS1), "PUBACK_SENT")
		r.fanOut(p)
	case packet.QoS2:
		dup := sess.OnInboundPublish(p)
		_ = sess.Send(&packet.PubRec{PacketID: p.PacketID})
		r.log.LogQoSFlow(sess.ClientID, p.PacketID, int(packet.QoS2), "PUBREC_SENT")
		_ = dup // dispatch deferred to PUBREL either way; dup only changes whether we re-stash
	}
}

func (r *Router) handlePubRel(sess *Session, pkt *packet.PubRel) {
	p, ok := sess.OnPubRel(pkt.PacketID)
	_ = sess.Send(&packet.PubComp{PacketID: pkt.PacketID})
	r.log.LogQoSFlow(sess.ClientID, pkt.PacketID, int(packet.QoS2), "PUBCOMP_SENT")
	if ok && p != nil {
		r.fanOut(p)
	}
}

// fanOut delivers p to every session subscribed to a filter matching
// p.Topic. Delivery uses the publish's own QoS rather than tracking a
// per-subscription downgrade.
func (r *Router) fanOut(p *packet.Publish) {
	for _, clientID := range r.index.Match(p.Topic) {
		sub, ok := r.sessions[clientID]
		if !ok || !sub.Live() {
			continue
		}
		cp := *p
		if cp.QoS > packet.QoS0 {
			cp.PacketID = nextPacketID(sub)
		} else {
			cp.PacketID = 0
		}
		sub.PublishToSubscriber(&cp)
		r.log.LogPublish(sub.ClientID, cp.Topic, int(cp.QoS), cp.Retain, len(cp.Payload))
	}
}

func subAckCodeFor(q packet.QoS) byte {
	switch q {
	case packet.QoS0:
		return packet.SubAckQoS0
	case packet.QoS1:
		return packet.SubAckQoS1
	default:
		return packet.SubAckQoS2
	}
}

func minQoS(a, b packet.QoS) packet.QoS {
	if a < b {
		return a
	}
	return b
}

// nextPacketID hands out the next free outbound packet id for sub, skipping
// zero and ids already in flight.
func nextPacketID(sub *Session) uint16 {
	for id := uint16(1); ; id++ {
		if _, inFlight := sub.OutboundUnacked[id]; !inFlight {
			return id
		}
		if id == 0xFFFF {
			break
		}
	}
	return 1
}

// handleClientDisconnect implements the clean, client-initiated DISCONNECT
// path: tell the connection to close, archive the session, never publish
// the will.
func (r *Router) handleClientDisconnect(sess *Session) {
	select {
	case sess.ConnTx <- OutgoingDisconnect{}:
	default:
	}
	r.archive(sess)
}

// handleDisconnect processes a connection loop's terminal notification: if
// the session hasn't already been taken over by a newer connection, archive
// it and, when this was an abnormal termination, publish its will.
func (r *Router) handleDisconnect(e IncomingDisconnect) {
	sess, ok := r.sessions[e.ClientID]
	if !ok {
		return
	}
	// A session takeover may already have replaced ConnTx with a newer
	// connection's channel; a disconnect notification from the superseded
	// connection must not archive the live one.
	if sess.ConnTx != e.ConnTx {
		return
	}
	r.archive(sess)

	if e.Abnormal && sess.Will != nil {
		will := &packet.Publish{
			Topic:   sess.Will.Topic,
			Payload: sess.Will.Payload,
			QoS:     sess.Will.QoS,
			Retain:  sess.Will.Retain,
		}
		if will.Retain {
			r.retained.Apply(will)
			r.log.LogRetainedMessage(will.Topic, "stored", len(will.Payload))
		}
		r.fanOut(will)
	}
}

func (r *Router) archive(sess *Session) {
	sess.Detach()
	r.hook.Disconnect(sess.ClientID)
	r.log.LogClientConnection(sess.ClientID, "", "disconnected")
	if sess.CleanSession {
		r.removeSubscriptions(sess)
		delete(r.sessions, sess.ClientID)
		return
	}
	r.ineffective = append(r.ineffective, ineffectiveEntry{clientID: sess.ClientID, at: sess.DisconnectedAt})
}

func (r *Router) removeSubscriptions(sess *Session) {
	for filter := range sess.ConcreteSubs {
		r.index.RemoveExact(filter, sess.ClientID)
	}
	for filter, tok := range sess.WildcardSubs {
		r.index.Remove(filter, tok)
	}
}

func (r *Router) removeIneffective(clientID string) {
	for i, e := range r.ineffective {
		if e.clientID == clientID {
			r.ineffective = append(r.ineffective[:i], r.ineffective[i+1:]...)
			return
		}
	}
}

// evictExpired drops ineffective-queue entries older than expireInterval,
// discarding their sessions entirely.
func (r *Router) evictExpired(now time.Time) {
	cutoff := 0
	for cutoff < len(r.ineffective) && now.Sub(r.ineffective[cutoff].at) > r.expireInterval {
		clientID := r.ineffective[cutoff].clientID
		if sess, ok := r.sessions[clientID]; ok {
			r.removeSubscriptions(sess)
			delete(r.sessions, clientID)
		}
		cutoff++
	}
	if cutoff > 0 {
		r.ineffective = r.ineffective[cutoff:]
	}
}
