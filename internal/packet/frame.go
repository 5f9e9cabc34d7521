package packet

import "github.com/pyr33x/goqttd/internal/er"

func malformed(ctx string) error {
	return &er.Err{Context: ctx, Message: er.ErrMalformedPacket}
}

// frame assembles a complete wire packet: fixed header (type nibble + flags
// nibble), the varint remaining length, and the body.
func frame(t Type, flags byte, body []byte) []byte {
	out := make([]byte, 0, 2+len(body))
	out = append(out, byte(t)<<4|flags&0x0F)
	out = append(out, encodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}
