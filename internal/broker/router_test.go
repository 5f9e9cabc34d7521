package broker

import (
	"io"
	"testing"
	"time"

	"github.com/pyr33x/goqttd/internal/hook"
	"github.com/pyr33x/goqttd/internal/logger"
	"github.com/pyr33x/goqttd/internal/packet"
)

func testRouter() *Router {
	return NewRouter(hook.Noop{}, time.Hour, logger.New(logger.Config{Output: io.Discard}))
}

func connectClient(r *Router, clientID string, clean bool) chan Outgoing {
	tx := make(chan Outgoing, OutgoingChanCap)
	r.dispatch(IncomingConnect{Connect: &packet.Connect{ClientID: clientID, CleanSession: clean, KeepAlive: 60}, ConnTx: tx})
	return tx
}

func drainConnAck(t *testing.T, tx chan Outgoing) *packet.ConnAck {
	t.Helper()
	select {
	case ev := <-tx:
		ack, ok := ev.(OutgoingData).Packet.(*packet.ConnAck)
		if !ok {
			t.Fatalf("expected ConnAck, got %#v", ev)
		}
		return ack
	default:
		t.Fatalf("no ConnAck received")
		return nil
	}
}

// Scenario 1: clean connect + subscribe + qos0 publish.
func TestScenarioCleanConnectSubscribePublish(t *testing.T) {
	r := testRouter()

	aTx := connectClient(r, "a", true)
	if ack := drainConnAck(t, aTx); ack.SessionPresent {
		t.Fatalf("fresh clean session should not report session_present")
	}

	r.dispatch(IncomingData{ClientID: "a", Packets: []packet.Packet{
		&packet.Subscribe{PacketID: 1, Filters: []packet.SubscribeFilter{{Filter: "t/1", QoS: packet.QoS1}}},
	}})
	select {
	case ev := <-aTx:
		suback := ev.(OutgoingData).Packet.(*packet.SubAck)
		if suback.PacketID != 1 || suback.ReturnCodes[0] != packet.SubAckQoS1 {
			t.Fatalf("unexpected suback: %+v", suback)
		}
	default:
		t.Fatalf("expected a SubAck")
	}

	bTx := connectClient(r, "b", true)
	drainConnAck(t, bTx)
	r.dispatch(IncomingData{ClientID: "b", Packets: []packet.Packet{
		&packet.Publish{QoS: packet.QoS0, Topic: "t/1", Payload: []byte("hi")},
	}})

	select {
	case ev := <-aTx:
		p := ev.(OutgoingData).Packet.(*packet.Publish)
		if p.Topic != "t/1" || string(p.Payload) != "hi" || p.QoS != packet.QoS0 {
			t.Fatalf("unexpected delivered publish: %+v", p)
		}
	default:
		t.Fatalf("A should have received the publish")
	}
	select {
	case ev := <-bTx:
		t.Fatalf("B should not receive any ack traffic for a qos0 publish, got %#v", ev)
	default:
	}
}

// Scenario 2: wildcard match with qos1 publisher ack + subscriber delivery.
func TestScenarioWildcardMatchQoS1(t *testing.T) {
	r := testRouter()

	aTx := connectClient(r, "a", true)
	drainConnAck(t, aTx)
	r.dispatch(IncomingData{ClientID: "a", Packets: []packet.Packet{
		&packet.Subscribe{PacketID: 1, Filters: []packet.SubscribeFilter{{Filter: "sensor/+/temp", QoS: packet.QoS1}}},
	}})
	<-aTx // suback

	bTx := connectClient(r, "b", true)
	drainConnAck(t, bTx)
	r.dispatch(IncomingData{ClientID: "b", Packets: []packet.Packet{
		&packet.Publish{QoS: packet.QoS1, Topic: "sensor/42/temp", PacketID: 7, Payload: []byte("20")},
	}})

	select {
	case ev := <-bTx:
		ack := ev.(OutgoingData).Packet.(*packet.PubAck)
		if ack.PacketID != 7 {
			t.Fatalf("want puback for 7, got %+v", ack)
		}
	default:
		t.Fatalf("publisher should receive PUBACK")
	}

	var delivered *packet.Publish
	select {
	case ev := <-aTx:
		delivered = ev.(OutgoingData).Packet.(*packet.Publish)
	default:
		t.Fatalf("subscriber should receive the publish")
	}
	if delivered.Topic != "sensor/42/temp" || delivered.PacketID == 0 {
		t.Fatalf("unexpected delivery: %+v", delivered)
	}

	sess := r.sessions["a"]
	r.dispatch(IncomingData{ClientID: "a", Packets: []packet.Packet{&packet.PubAck{PacketID: delivered.PacketID}}})
	if len(sess.OutboundUnacked) != 0 {
		t.Fatalf("outbound_unacked should be empty after ack, got %v", sess.OutboundUnacked)
	}
}

// Scenario 3: QoS2 full handshake; subscribers see the message exactly once.
func TestScenarioQoS2FullHandshake(t *testing.T) {
	r := testRouter()

	aTx := connectClient(r, "a", true)
	drainConnAck(t, aTx)
	r.dispatch(IncomingData{ClientID: "a", Packets: []packet.Packet{
		&packet.Subscribe{PacketID: 1, Filters: []packet.SubscribeFilter{{Filter: "t", QoS: packet.QoS2}}},
	}})
	<-aTx // suback

	bTx := connectClient(r, "b", true)
	drainConnAck(t, bTx)

	r.dispatch(IncomingData{ClientID: "b", Packets: []packet.Packet{
		&packet.Publish{QoS: packet.QoS2, Topic: "t", PacketID: 9, Payload: []byte("x")},
	}})
	ev := <-bTx
	if rec, ok := ev.(OutgoingData).Packet.(*packet.PubRec); !ok || rec.PacketID != 9 {
		t.Fatalf("want PubRec{9}, got %#v", ev)
	}
	select {
	case ev := <-aTx:
		t.Fatalf("subscriber must not see the message before PUBREL, got %#v", ev)
	default:
	}

	r.dispatch(IncomingData{ClientID: "b", Packets: []packet.Packet{&packet.PubRel{PacketID: 9}}})
	ev = <-bTx
	if comp, ok := ev.(OutgoingData).Packet.(*packet.PubComp); !ok || comp.PacketID != 9 {
		t.Fatalf("want PubComp{9}, got %#v", ev)
	}

	ev = <-aTx
	delivered, ok := ev.(OutgoingData).Packet.(*packet.Publish)
	if !ok || delivered.Topic != "t" {
		t.Fatalf("want the message delivered once after PUBREL, got %#v", ev)
	}
	select {
	case ev := <-aTx:
		t.Fatalf("message delivered more than once: %#v", ev)
	default:
	}
}

// Scenario 4 & 5: session takeover preserves state; clean_session discards it.
func TestScenarioSessionTakeoverVsCleanReconnect(t *testing.T) {
	r := testRouter()

	aTx := connectClient(r, "a", false)
	if ack := drainConnAck(t, aTx); ack.SessionPresent {
		t.Fatalf("first connect should not report session_present")
	}
	r.dispatch(IncomingData{ClientID: "a", Packets: []packet.Packet{
		&packet.Subscribe{PacketID: 1, Filters: []packet.SubscribeFilter{{Filter: "x", QoS: packet.QoS0}}},
	}})
	<-aTx // suback

	r.dispatch(IncomingDisconnect{ClientID: "a", ConnTx: aTx, Abnormal: true})

	a2Tx := connectClient(r, "a", false)
	if ack := drainConnAck(t, a2Tx); !ack.SessionPresent {
		t.Fatalf("reconnect with clean_session=false should report session_present=true")
	}
	if _, ok := r.sessions["a"].ConcreteSubs["x"]; !ok {
		t.Fatalf("subscription to x should have survived the reconnect")
	}

	r.dispatch(IncomingDisconnect{ClientID: "a", ConnTx: a2Tx, Abnormal: true})
	a3Tx := connectClient(r, "a", true)
	if ack := drainConnAck(t, a3Tx); ack.SessionPresent {
		t.Fatalf("clean_session=true reconnect should report session_present=false")
	}
	if _, ok := r.sessions["a"].ConcreteSubs["x"]; ok {
		t.Fatalf("clean_session=true should have discarded prior subscriptions")
	}
}

// A clean_session=true reconnect must scrub the old session's filters from
// the global index, not just drop the session — otherwise the fresh session
// keeps receiving messages for subscriptions it never made.
func TestCleanReconnectRemovesOldSubscriptionsFromIndex(t *testing.T) {
	r := testRouter()

	aTx := connectClient(r, "a", false)
	drainConnAck(t, aTx)
	r.dispatch(IncomingData{ClientID: "a", Packets: []packet.Packet{
		&packet.Subscribe{PacketID: 1, Filters: []packet.SubscribeFilter{
			{Filter: "x", QoS: packet.QoS0},
			{Filter: "w/+", QoS: packet.QoS0},
		}},
	}})
	<-aTx // suback
	r.dispatch(IncomingDisconnect{ClientID: "a", ConnTx: aTx, Abnormal: true})

	a2Tx := connectClient(r, "a", true)
	drainConnAck(t, a2Tx)

	bTx := connectClient(r, "b", true)
	drainConnAck(t, bTx)
	r.dispatch(IncomingData{ClientID: "b", Packets: []packet.Packet{
		&packet.Publish{QoS: packet.QoS0, Topic: "x", Payload: []byte("1")},
		&packet.Publish{QoS: packet.QoS0, Topic: "w/1", Payload: []byte("2")},
	}})

	select {
	case ev := <-a2Tx:
		t.Fatalf("clean reconnect must not inherit old subscriptions, got %#v", ev)
	default:
	}
}

// Retained delivery on subscribe.
func TestRetainedDeliveryOnSubscribe(t *testing.T) {
	r := testRouter()

	bTx := connectClient(r, "b", true)
	drainConnAck(t, bTx)
	r.dispatch(IncomingData{ClientID: "b", Packets: []packet.Packet{
		&packet.Publish{QoS: packet.QoS0, Retain: true, Topic: "t/1", Payload: []byte("retained")},
	}})

	aTx := connectClient(r, "a", true)
	drainConnAck(t, aTx)
	r.dispatch(IncomingData{ClientID: "a", Packets: []packet.Packet{
		&packet.Subscribe{PacketID: 1, Filters: []packet.SubscribeFilter{{Filter: "t/1", QoS: packet.QoS0}}},
	}})

	// The retained message is queued ahead of the SubAck (handleSubscribe
	// delivers retained matches before acking the filter).
	select {
	case ev := <-aTx:
		p := ev.(OutgoingData).Packet.(*packet.Publish)
		if string(p.Payload) != "retained" || !p.Retain {
			t.Fatalf("unexpected retained delivery: %+v", p)
		}
	default:
		t.Fatalf("new subscriber should receive the retained message")
	}
	select {
	case ev := <-aTx:
		if _, ok := ev.(OutgoingData).Packet.(*packet.SubAck); !ok {
			t.Fatalf("expected SubAck after the retained delivery, got %#v", ev)
		}
	default:
		t.Fatalf("expected a SubAck")
	}
}

// A QoS1 retained delivery on SUBSCRIBE must get a fresh packet id for the
// subscriber, not the id the original publisher happened to use — otherwise
// it can collide with an id already in that subscriber's outbound window.
func TestRetainedDeliveryOnSubscribeQoS1AvoidsPacketIDCollision(t *testing.T) {
	r := testRouter()

	aTx := connectClient(r, "a", true)
	drainConnAck(t, aTx)
	r.dispatch(IncomingData{ClientID: "a", Packets: []packet.Packet{
		&packet.Subscribe{PacketID: 1, Filters: []packet.SubscribeFilter{{Filter: "live/x", QoS: packet.QoS1}}},
	}})
	<-aTx // suback

	cTx := connectClient(r, "c", true)
	drainConnAck(t, cTx)
	r.dispatch(IncomingData{ClientID: "c", Packets: []packet.Packet{
		&packet.Publish{PacketID: 9, QoS: packet.QoS1, Topic: "live/x", Payload: []byte("live")},
	}})
	<-cTx // puback to c

	live := (<-aTx).(OutgoingData).Packet.(*packet.Publish)
	if live.PacketID != 1 {
		t.Fatalf("expected a's first in-flight delivery to be packet id 1, got %d", live.PacketID)
	}

	bTx := connectClient(r, "b", true)
	drainConnAck(t, bTx)
	r.dispatch(IncomingData{ClientID: "b", Packets: []packet.Packet{
		// The publisher's own packet id happens to collide with the id
		// already in flight to "a" above.
		&packet.Publish{PacketID: 1, QoS: packet.QoS1, Retain: true, Topic: "t/1", Payload: []byte("retained")},
	}})
	<-bTx // puback to b

	r.dispatch(IncomingData{ClientID: "a", Packets: []packet.Packet{
		&packet.Subscribe{PacketID: 2, Filters: []packet.SubscribeFilter{{Filter: "t/1", QoS: packet.QoS1}}},
	}})

	retained := (<-aTx).(OutgoingData).Packet.(*packet.Publish)
	if string(retained.Payload) != "retained" {
		t.Fatalf("unexpected retained delivery: %+v", retained)
	}
	if retained.PacketID == live.PacketID {
		t.Fatalf("retained delivery reused the id already in flight to the subscriber: %d", retained.PacketID)
	}

	sess := r.sessions["a"]
	if _, ok := sess.OutboundUnacked[live.PacketID]; !ok {
		t.Fatalf("earlier in-flight message at id %d was clobbered", live.PacketID)
	}
	if _, ok := sess.OutboundUnacked[retained.PacketID]; !ok {
		t.Fatalf("retained delivery was not tracked for resend at id %d", retained.PacketID)
	}
}

// Abnormal disconnect publishes the will.
func TestWillPublishedOnAbnormalDisconnect(t *testing.T) {
	r := testRouter()

	aTx := connectClient(r, "a", true)
	drainConnAck(t, aTx)
	r.dispatch(IncomingData{ClientID: "a", Packets: []packet.Packet{
		&packet.Subscribe{PacketID: 1, Filters: []packet.SubscribeFilter{{Filter: "last/will", QoS: packet.QoS0}}},
	}})
	<-aTx // suback

	bTx := make(chan Outgoing, OutgoingChanCap)
	r.dispatch(IncomingConnect{Connect: &packet.Connect{
		ClientID: "b", CleanSession: true, KeepAlive: 60,
		Will: &packet.Will{Topic: "last/will", Payload: []byte("bye")},
	}, ConnTx: bTx})
	drainConnAck(t, bTx)

	r.dispatch(IncomingDisconnect{ClientID: "b", ConnTx: bTx, Abnormal: true})
	select {
	case ev := <-aTx:
		p := ev.(OutgoingData).Packet.(*packet.Publish)
		if string(p.Payload) != "bye" {
			t.Fatalf("unexpected will payload: %s", p.Payload)
		}
	default:
		t.Fatalf("abnormal disconnect should publish the will")
	}
}
