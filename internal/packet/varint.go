package packet

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/pyr33x/goqttd/internal/er"
)

// encodeRemainingLength encodes length as a base-128 varint: low 7 bits of
// each byte are magnitude, high bit is the continuation flag.
func encodeRemainingLength(length int) []byte {
	var encoded []byte
	for {
		b := byte(length % 128)
		length /= 128
		if length > 0 {
			b |= 0x80
		}
		encoded = append(encoded, b)
		if length == 0 {
			break
		}
	}
	return encoded
}

// decodeRemainingLength reads a varint from the start of buf. It returns
// er.ErrInsufficientBytes if buf ends mid-varint (the caller must not advance
// its read cursor), er.ErrMalformedPacket on a 5th continuation byte.
func decodeRemainingLength(buf []byte) (length int, consumed int, err error) {
	multiplier := 1
	for {
		if consumed >= len(buf) {
			return 0, 0, &er.Err{Context: "remaining length", Message: er.ErrInsufficientBytes}
		}
		if consumed >= 4 {
			return 0, 0, &er.Err{Context: "remaining length", Message: er.ErrMalformedPacket}
		}
		b := buf[consumed]
		length += int(b&0x7F) * multiplier
		if length > MaxPayloadSize {
			return 0, 0, &er.Err{Context: "remaining length", Message: er.ErrPayloadTooLarge}
		}
		multiplier *= 128
		consumed++
		if b&0x80 == 0 {
			break
		}
	}
	return length, consumed, nil
}

// decodeString reads a u16-length-prefixed UTF-8 string.
func decodeString(buf []byte) (string, int, error) {
	if len(buf) < 2 {
		return "", 0, &er.Err{Context: "string", Message: er.ErrMalformedString}
	}
	n := int(binary.BigEndian.Uint16(buf[:2]))
	if len(buf) < 2+n {
		return "", 0, &er.Err{Context: "string", Message: er.ErrMalformedString}
	}
	s := string(buf[2 : 2+n])
	if !utf8.ValidString(s) {
		return "", 0, &er.Err{Context: "string", Message: er.ErrMalformedString}
	}
	return s, 2 + n, nil
}

func encodeString(s string) []byte {
	out := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(out, uint16(len(s)))
	copy(out[2:], s)
	return out
}

func encodeUint16(v uint16) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, v)
	return out
}

func decodeUint16(buf []byte) (uint16, error) {
	if len(buf) < 2 {
		return 0, &er.Err{Context: "uint16", Message: er.ErrMalformedPacket}
	}
	return binary.BigEndian.Uint16(buf[:2]), nil
}
