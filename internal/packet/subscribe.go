package packet

import "github.com/pyr33x/goqttd/internal/er"

// SubscribeFilter pairs a topic filter with the QoS requested for it.
type SubscribeFilter struct {
	Filter string
	QoS    QoS
}

// Subscribe is the SUBSCRIBE control packet: at least one filter, each
// possibly containing `+`/`#` wildcards.
type Subscribe struct {
	PacketID uint16
	Filters  []SubscribeFilter
}

func (s *Subscribe) Type() Type { return SUBSCRIBE }

func decodeSubscribe(flags byte, payload []byte) (*Subscribe, error) {
	if flags != 0x02 {
		return nil, &er.Err{Context: "subscribe, flags", Message: er.ErrReservedFlags}
	}
	id, err := decodeUint16(payload)
	if err != nil || id == 0 {
		return nil, &er.Err{Context: "subscribe, packet id", Message: er.ErrMissPacketID}
	}
	payload = payload[2:]

	s := &Subscribe{PacketID: id}
	for len(payload) > 0 {
		filter, n, err := decodeString(payload)
		if err != nil {
			return nil, err
		}
		payload = payload[n:]
		if len(payload) < 1 {
			return nil, malformed("subscribe, qos byte")
		}
		qosByte := payload[0]
		payload = payload[1:]
		if qosByte&0xFC != 0 {
			return nil, malformed("subscribe, reserved qos bits")
		}
		qos := QoS(qosByte & 0x03)
		if qos > QoS2 {
			return nil, &er.Err{Context: "subscribe, qos", Message: er.ErrInvalidQoS}
		}
		s.Filters = append(s.Filters, SubscribeFilter{Filter: filter, QoS: qos})
	}
	if len(s.Filters) == 0 {
		return nil, &er.Err{Context: "subscribe", Message: er.ErrNoFilters}
	}
	return s, nil
}

func (s *Subscribe) Encode() []byte {
	body := encodeUint16(s.PacketID)
	for _, f := range s.Filters {
		body = append(body, encodeString(f.Filter)...)
		body = append(body, byte(f.QoS))
	}
	return frame(SUBSCRIBE, 0x02, body)
}

// SUBACK return codes.
const (
	SubAckQoS0    byte = 0x00
	SubAckQoS1    byte = 0x01
	SubAckQoS2    byte = 0x02
	SubAckFailure byte = 0x80
)

// SubAck is the broker's response to SUBSCRIBE, one return code per filter
// in request order.
type SubAck struct {
	PacketID    uint16
	ReturnCodes []byte
}

func (s *SubAck) Type() Type { return SUBACK }

func (s *SubAck) Encode() []byte {
	body := encodeUint16(s.PacketID)
	body = append(body, s.ReturnCodes...)
	return frame(SUBACK, 0, body)
}

func decodeSubAck(payload []byte) (*SubAck, error) {
	if len(payload) < 3 {
		return nil, malformed("suback")
	}
	id, err := decodeUint16(payload)
	if err != nil {
		return nil, malformed("suback")
	}
	return &SubAck{PacketID: id, ReturnCodes: append([]byte(nil), payload[2:]...)}, nil
}
