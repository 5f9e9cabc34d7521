package packet

import "github.com/pyr33x/goqttd/internal/er"

// TryParse attempts to decode one packet from the head of buf.
//
// On success it returns the decoded packet and the number of bytes consumed.
// If buf does not yet hold a complete packet, it returns a nil packet, zero
// consumed bytes, and an error wrapping er.ErrInsufficientBytes — the caller
// must not advance its read cursor and should retry once more bytes have
// arrived. Any other error is fatal for the connection.
func TryParse(buf []byte) (Packet, int, error) {
	if len(buf) < 2 {
		return nil, 0, &er.Err{Context: "fixed header", Message: er.ErrInsufficientBytes}
	}

	first := buf[0]
	t := Type(first >> 4)
	flags := first & 0x0F

	remLen, varintLen, err := decodeRemainingLength(buf[1:])
	if err != nil {
		return nil, 0, err
	}

	total := 1 + varintLen + remLen
	if len(buf) < total {
		return nil, 0, &er.Err{Context: "packet body", Message: er.ErrInsufficientBytes}
	}
	payload := buf[1+varintLen : total]

	if remLen == 0 {
		switch t {
		case PINGREQ, PINGRESP, DISCONNECT:
		default:
			return nil, 0, &er.Err{Context: t.String(), Message: er.ErrPayloadRequired}
		}
	}

	p, err := decodeBody(t, flags, payload)
	if err != nil {
		return nil, 0, err
	}
	return p, total, nil
}

func decodeBody(t Type, flags byte, payload []byte) (Packet, error) {
	switch t {
	case CONNECT:
		if flags != 0 {
			return nil, &er.Err{Context: "connect, flags", Message: er.ErrReservedFlags}
		}
		return decodeConnect(payload)
	case CONNACK:
		if flags != 0 {
			return nil, &er.Err{Context: "connack, flags", Message: er.ErrReservedFlags}
		}
		return decodeConnAck(payload)
	case PUBLISH:
		return decodePublish(flags, payload)
	case PUBACK:
		if flags != 0 {
			return nil, &er.Err{Context: "puback, flags", Message: er.ErrReservedFlags}
		}
		return decodePubAck(payload)
	case PUBREC:
		if flags != 0 {
			return nil, &er.Err{Context: "pubrec, flags", Message: er.ErrReservedFlags}
		}
		return decodePubRec(payload)
	case PUBREL:
		return decodePubRel(flags, payload)
	case PUBCOMP:
		if flags != 0 {
			return nil, &er.Err{Context: "pubcomp, flags", Message: er.ErrReservedFlags}
		}
		return decodePubComp(payload)
	case SUBSCRIBE:
		return decodeSubscribe(flags, payload)
	case SUBACK:
		if flags != 0 {
			return nil, &er.Err{Context: "suback, flags", Message: er.ErrReservedFlags}
		}
		return decodeSubAck(payload)
	case UNSUBSCRIBE:
		return decodeUnsubscribe(flags, payload)
	case UNSUBACK:
		if flags != 0 {
			return nil, &er.Err{Context: "unsuback, flags", Message: er.ErrReservedFlags}
		}
		return decodeUnsubAck(payload)
	case PINGREQ:
		if err := decodeEmpty(flags, payload); err != nil {
			return nil, err
		}
		return &PingReq{}, nil
	case PINGRESP:
		if err := decodeEmpty(flags, payload); err != nil {
			return nil, err
		}
		return &PingResp{}, nil
	case DISCONNECT:
		if err := decodeEmpty(flags, payload); err != nil {
			return nil, err
		}
		return &Disconnect{}, nil
	default:
		return nil, &er.Err{Context: "fixed header, type", Message: er.ErrInvalidPacketType}
	}
}
