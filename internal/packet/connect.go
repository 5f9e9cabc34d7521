package packet

import (
	"github.com/pyr33x/goqttd/internal/er"
)

// Will is the last-will message carried in CONNECT, published by the broker
// on abnormal disconnect.
type Will struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool
}

// Login is the optional username/password pair carried in CONNECT.
type Login struct {
	Username string
	Password string
}

// Connect is the CONNECT control packet.
type Connect struct {
	ProtocolLevel byte
	KeepAlive     uint16
	ClientID      string
	CleanSession  bool
	Will          *Will
	Login         *Login
}

func (c *Connect) Type() Type { return CONNECT }

func decodeConnect(payload []byte) (*Connect, error) {
	name, n, err := decodeString(payload)
	if err != nil {
		return nil, err
	}
	payload = payload[n:]
	if name != "MQTT" {
		return nil, &er.Err{Context: "connect, protocol name", Message: er.ErrUnsupportedProtocolName}
	}

	if len(payload) < 1 {
		return nil, &er.Err{Context: "connect", Message: er.ErrMalformedPacket}
	}
	level := payload[0]
	payload = payload[1:]
	if level != 4 {
		return nil, &er.Err{Context: "connect, protocol level", Message: er.ErrUnsupportedProtocolLevel}
	}

	if len(payload) < 1 {
		return nil, &er.Err{Context: "connect", Message: er.ErrMalformedPacket}
	}
	flags := payload[0]
	payload = payload[1:]

	usernameFlag := flags&0x80 != 0
	passwordFlag := flags&0x40 != 0
	willRetain := flags&0x20 != 0
	willQoS := QoS((flags & 0x18) >> 3)
	willFlag := flags&0x04 != 0
	cleanSession := flags&0x02 != 0

	if flags&0x01 != 0 {
		return nil, &er.Err{Context: "connect, reserved flag", Message: er.ErrMalformedPacket}
	}
	if willFlag && willQoS > QoS2 {
		return nil, &er.Err{Context: "connect, will qos", Message: er.ErrInvalidWillQoS}
	}
	if !willFlag && (willRetain || willQoS != 0) {
		return nil, &er.Err{Context: "connect, will flags", Message: er.ErrMalformedPacket}
	}
	if !usernameFlag && passwordFlag {
		return nil, &er.Err{Context: "connect, password without username", Message: er.ErrPasswordWithoutUsername}
	}

	keepAlive, err := decodeUint16(payload)
	if err != nil {
		return nil, &er.Err{Context: "connect, keep alive", Message: er.ErrMalformedPacket}
	}
	payload = payload[2:]

	clientID, n, err := decodeString(payload)
	if err != nil {
		return nil, err
	}
	payload = payload[n:]

	c := &Connect{
		ProtocolLevel: level,
		KeepAlive:     keepAlive,
		ClientID:      clientID,
		CleanSession:  cleanSession,
	}

	if willFlag {
		topic, n, err := decodeString(payload)
		if err != nil {
			return nil, err
		}
		payload = payload[n:]

		msgLen, err := decodeUint16(payload)
		if err != nil {
			return nil, &er.Err{Context: "connect, will message", Message: er.ErrMalformedPacket}
		}
		payload = payload[2:]
		if len(payload) < int(msgLen) {
			return nil, &er.Err{Context: "connect, will message", Message: er.ErrMalformedPacket}
		}
		msg := make([]byte, msgLen)
		copy(msg, payload[:msgLen])
		payload = payload[msgLen:]

		c.Will = &Will{Topic: topic, Payload: msg, QoS: willQoS, Retain: willRetain}
	}

	if usernameFlag {
		username, n, err := decodeString(payload)
		if err != nil {
			return nil, err
		}
		payload = payload[n:]
		c.Login = &Login{Username: username}
	}

	if passwordFlag {
		password, n, err := decodeString(payload)
		if err != nil {
			return nil, err
		}
		payload = payload[n:]
		if c.Login == nil {
			c.Login = &Login{}
		}
		c.Login.Password = password
	}

	return c, nil
}

func (c *Connect) Encode() []byte {
	var flags byte
	if c.Login != nil && c.Login.Username != "" {
		flags |= 0x80
	}
	if c.Login != nil && c.Login.Password != "" {
		flags |= 0x40
	}
	if c.Will != nil {
		flags |= 0x04
		if c.Will.Retain {
			flags |= 0x20
		}
		flags |= byte(c.Will.QoS) << 3
	}
	if c.CleanSession {
		flags |= 0x02
	}

	var body []byte
	body = append(body, encodeString("MQTT")...)
	body = append(body, 4)
	body = append(body, flags)
	body = append(body, encodeUint16(c.KeepAlive)...)
	body = append(body, encodeString(c.ClientID)...)

	if c.Will != nil {
		body = append(body, encodeString(c.Will.Topic)...)
		body = append(body, encodeUint16(uint16(len(c.Will.Payload)))...)
		body = append(body, c.Will.Payload...)
	}
	if c.Login != nil {
		body = append(body, encodeString(c.Login.Username)...)
		if flags&0x40 != 0 {
			body = append(body, encodeString(c.Login.Password)...)
		}
	}

	return frame(CONNECT, 0, body)
}
