package packet

import "github.com/pyr33x/goqttd/internal/er"

// PubAck, PubRec, PubRel, and PubComp are the four QoS1/QoS2 acknowledgment
// packets. PUBREL is the only one of the four with reserved
// fixed-header flags 0010 instead of 0000; the rest share one shape.
type PubAck struct{ PacketID uint16 }
type PubRec struct{ PacketID uint16 }
type PubRel struct{ PacketID uint16 }
type PubComp struct{ PacketID uint16 }

func (p *PubAck) Type() Type  { return PUBACK }
func (p *PubRec) Type() Type  { return PUBREC }
func (p *PubRel) Type() Type  { return PUBREL }
func (p *PubComp) Type() Type { return PUBCOMP }

func (p *PubAck) Encode() []byte  { return frame(PUBACK, 0, encodeUint16(p.PacketID)) }
func (p *PubRec) Encode() []byte  { return frame(PUBREC, 0, encodeUint16(p.PacketID)) }
func (p *PubRel) Encode() []byte  { return frame(PUBREL, 0x02, encodeUint16(p.PacketID)) }
func (p *PubComp) Encode() []byte { return frame(PUBCOMP, 0, encodeUint16(p.PacketID)) }

func decodeAckID(ctx string, payload []byte) (uint16, error) {
	if len(payload) != 2 {
		return 0, malformed(ctx)
	}
	id, err := decodeUint16(payload)
	if err != nil {
		return 0, malformed(ctx)
	}
	if id == 0 {
		return 0, malformed(ctx)
	}
	return id, nil
}

func decodePubAck(payload []byte) (*PubAck, error) {
	id, err := decodeAckID("puback", payload)
	if err != nil {
		return nil, err
	}
	return &PubAck{PacketID: id}, nil
}

func decodePubRec(payload []byte) (*PubRec, error) {
	id, err := decodeAckID("pubrec", payload)
	if err != nil {
		return nil, err
	}
	return &PubRec{PacketID: id}, nil
}

func decodePubRel(flags byte, payload []byte) (*PubRel, error) {
	if flags != 0x02 {
		return nil, &er.Err{Context: "pubrel, flags", Message: er.ErrReservedFlags}
	}
	id, err := decodeAckID("pubrel", payload)
	if err != nil {
		return nil, err
	}
	return &PubRel{PacketID: id}, nil
}

func decodePubComp(payload []byte) (*PubComp, error) {
	id, err := decodeAckID("pubcomp", payload)
	if err != nil {
		return nil, err
	}
	return &PubComp{PacketID: id}, nil
}
