package packet

import "github.com/pyr33x/goqttd/internal/er"

// Publish is the PUBLISH control packet. PacketID is present
// iff QoS > 0 and must be non-zero; the codec never reads a packet id for
// QoS 0, even if the field happens to be set in memory.
type Publish struct {
	DUP      bool
	QoS      QoS
	Retain   bool
	Topic    string
	PacketID uint16
	Payload  []byte
}

func (p *Publish) Type() Type { return PUBLISH }

func decodePublish(flags byte, payload []byte) (*Publish, error) {
	p := &Publish{
		DUP:    flags&0x08 != 0,
		QoS:    QoS((flags & 0x06) >> 1),
		Retain: flags&0x01 != 0,
	}
	if p.QoS > QoS2 {
		return nil, &er.Err{Context: "publish, qos", Message: er.ErrInvalidQoS}
	}
	if p.DUP && p.QoS == QoS0 {
		return nil, malformed("publish, dup with qos0")
	}

	topic, n, err := decodeString(payload)
	if err != nil {
		return nil, err
	}
	payload = payload[n:]
	if topic == "" || containsWildcards(topic) {
		return nil, &er.Err{Context: "publish, topic", Message: er.ErrInvalidPublishTopic}
	}
	p.Topic = topic

	if p.QoS != QoS0 {
		id, err := decodeUint16(payload)
		if err != nil {
			return nil, &er.Err{Context: "publish, packet id", Message: er.ErrMissPacketID}
		}
		if id == 0 {
			return nil, &er.Err{Context: "publish, packet id", Message: er.ErrMissPacketID}
		}
		p.PacketID = id
		payload = payload[2:]
	}

	if len(payload) > MaxPayloadSize {
		return nil, &er.Err{Context: "publish, payload", Message: er.ErrPayloadTooLarge}
	}
	p.Payload = append([]byte(nil), payload...)
	return p, nil
}

func (p *Publish) Encode() []byte {
	var flags byte
	if p.DUP {
		flags |= 0x08
	}
	flags |= byte(p.QoS) << 1
	if p.Retain {
		flags |= 0x01
	}

	var body []byte
	body = append(body, encodeString(p.Topic)...)
	if p.QoS != QoS0 {
		body = append(body, encodeUint16(p.PacketID)...)
	}
	body = append(body, p.Payload...)

	return frame(PUBLISH, flags, body)
}

func containsWildcards(topic string) bool {
	for _, c := range topic {
		if c == '+' || c == '#' {
			return true
		}
	}
	return false
}
