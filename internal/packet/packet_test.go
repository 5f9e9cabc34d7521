package packet

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pyr33x/goqttd/internal/er"
)

func roundTrip(t *testing.T, p Packet) Packet {
	t.Helper()
	raw := p.Encode()
	got, n, err := TryParse(raw)
	if err != nil {
		t.Fatalf("TryParse(%x): %v", raw, err)
	}
	if n != len(raw) {
		t.Fatalf("consumed %d, want %d", n, len(raw))
	}
	return got
}

func TestRoundTripConnect(t *testing.T) {
	want := &Connect{
		ProtocolLevel: 4,
		KeepAlive:     60,
		ClientID:      "client-a",
		CleanSession:  true,
		Will:          &Will{Topic: "will/topic", Payload: []byte("bye"), QoS: QoS1, Retain: true},
		Login:         &Login{Username: "user", Password: "pass"},
	}
	got := roundTrip(t, want).(*Connect)
	if got.ClientID != want.ClientID || got.KeepAlive != want.KeepAlive || !got.CleanSession {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if got.Will == nil || got.Will.Topic != want.Will.Topic || !bytes.Equal(got.Will.Payload, want.Will.Payload) || got.Will.QoS != want.Will.QoS || !got.Will.Retain {
		t.Fatalf("will mismatch: %+v", got.Will)
	}
	if got.Login == nil || got.Login.Username != want.Login.Username || got.Login.Password != want.Login.Password {
		t.Fatalf("login mismatch: %+v", got.Login)
	}
}

func TestRoundTripPublishQoS0NoPacketID(t *testing.T) {
	want := &Publish{QoS: QoS0, Topic: "t/1", Payload: []byte("hi")}
	got := roundTrip(t, want).(*Publish)
	if got.PacketID != 0 {
		t.Fatalf("qos0 publish decoded a packet id: %d", got.PacketID)
	}
	if got.Topic != want.Topic || !bytes.Equal(got.Payload, want.Payload) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestRoundTripPublishQoS2(t *testing.T) {
	want := &Publish{QoS: QoS2, Topic: "sensor/42/temp", PacketID: 7, Payload: []byte("20"), Retain: true}
	got := roundTrip(t, want).(*Publish)
	if got.PacketID != 7 || got.QoS != QoS2 || !got.Retain {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestPublishQoSGtZeroMissingPacketID(t *testing.T) {
	raw := (&Publish{QoS: QoS1, Topic: "t", PacketID: 5}).Encode()
	// Zero out the packet id bytes to simulate a malformed QoS1 publish with id=0.
	raw[len(raw)-2] = 0
	raw[len(raw)-1] = 0
	_, _, err := TryParse(raw)
	if !errors.Is(err, er.ErrMissPacketID) {
		t.Fatalf("want ErrMissPacketID, got %v", err)
	}
}

func TestRoundTripSubscribe(t *testing.T) {
	want := &Subscribe{PacketID: 1, Filters: []SubscribeFilter{{Filter: "sensor/+/temp", QoS: QoS1}, {Filter: "#", QoS: QoS2}}}
	got := roundTrip(t, want).(*Subscribe)
	if len(got.Filters) != 2 || got.Filters[0].Filter != "sensor/+/temp" || got.Filters[1].QoS != QoS2 {
		t.Fatalf("got %+v", got.Filters)
	}
}

func TestSubscribeNoFilters(t *testing.T) {
	raw := frame(SUBSCRIBE, 0x02, encodeUint16(1))
	_, _, err := TryParse(raw)
	if !errors.Is(err, er.ErrNoFilters) {
		t.Fatalf("want ErrNoFilters, got %v", err)
	}
}

func TestRoundTripUnsubscribe(t *testing.T) {
	want := &Unsubscribe{PacketID: 9, Filters: []string{"a/b", "c/+"}}
	got := roundTrip(t, want).(*Unsubscribe)
	if len(got.Filters) != 2 || got.Filters[1] != "c/+" {
		t.Fatalf("got %+v", got.Filters)
	}
}

func TestRoundTripAcks(t *testing.T) {
	for _, p := range []Packet{
		&PubAck{PacketID: 11},
		&PubRec{PacketID: 12},
		&PubRel{PacketID: 13},
		&PubComp{PacketID: 14},
		&SubAck{PacketID: 15, ReturnCodes: []byte{SubAckQoS1, SubAckFailure}},
		&UnsubAck{PacketID: 16},
	} {
		roundTrip(t, p)
	}
}

func TestRoundTripZeroLengthPackets(t *testing.T) {
	for _, p := range []Packet{&PingReq{}, &PingResp{}, &Disconnect{}} {
		roundTrip(t, p)
	}
}

func TestZeroRemainingLengthRejectedForOtherTypes(t *testing.T) {
	raw := []byte{byte(PUBACK) << 4, 0x00}
	_, _, err := TryParse(raw)
	if !errors.Is(err, er.ErrPayloadRequired) {
		t.Fatalf("want ErrPayloadRequired, got %v", err)
	}
}

func TestInsufficientBytes(t *testing.T) {
	full := (&Publish{QoS: QoS0, Topic: "t", Payload: []byte("abcdef")}).Encode()
	for i := 0; i < len(full); i++ {
		_, _, err := TryParse(full[:i])
		if !errors.Is(err, er.ErrInsufficientBytes) {
			t.Fatalf("prefix len %d: want ErrInsufficientBytes, got %v", i, err)
		}
	}
}

func TestRemainingLengthFiveContinuationBytesMalformed(t *testing.T) {
	raw := []byte{byte(PUBLISH) << 4, 0xFF, 0xFF, 0xFF, 0xFF, 0x7F}
	_, _, err := TryParse(raw)
	if !errors.Is(err, er.ErrMalformedPacket) {
		t.Fatalf("want ErrMalformedPacket, got %v", err)
	}
}
