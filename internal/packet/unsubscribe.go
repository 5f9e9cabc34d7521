package packet

import "github.com/pyr33x/goqttd/internal/er"

// Unsubscribe is the UNSUBSCRIBE control packet.
type Unsubscribe struct {
	PacketID uint16
	Filters  []string
}

func (u *Unsubscribe) Type() Type { return UNSUBSCRIBE }

func decodeUnsubscribe(flags byte, payload []byte) (*Unsubscribe, error) {
	if flags != 0x02 {
		return nil, &er.Err{Context: "unsubscribe, flags", Message: er.ErrReservedFlags}
	}
	id, err := decodeUint16(payload)
	if err != nil || id == 0 {
		return nil, &er.Err{Context: "unsubscribe, packet id", Message: er.ErrMissPacketID}
	}
	payload = payload[2:]

	u := &Unsubscribe{PacketID: id}
	for len(payload) > 0 {
		filter, n, err := decodeString(payload)
		if err != nil {
			return nil, err
		}
		payload = payload[n:]
		u.Filters = append(u.Filters, filter)
	}
	if len(u.Filters) == 0 {
		return nil, &er.Err{Context: "unsubscribe", Message: er.ErrNoFilters}
	}
	return u, nil
}

func (u *Unsubscribe) Encode() []byte {
	body := encodeUint16(u.PacketID)
	for _, f := range u.Filters {
		body = append(body, encodeString(f)...)
	}
	return frame(UNSUBSCRIBE, 0x02, body)
}

// UnsubAck is the broker's response to UNSUBSCRIBE.
type UnsubAck struct {
	PacketID uint16
}

func (u *UnsubAck) Type() Type { return UNSUBACK }

func (u *UnsubAck) Encode() []byte {
	return frame(UNSUBACK, 0, encodeUint16(u.PacketID))
}

func decodeUnsubAck(payload []byte) (*UnsubAck, error) {
	id, err := decodeAckID("unsuback", payload)
	if err != nil {
		return nil, err
	}
	return &UnsubAck{PacketID: id}, nil
}
