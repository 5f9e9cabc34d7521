// Package hook defines the broker's extension interface: authentication
// plus connect/disconnect notifications. There is no inheritance
// hierarchy — just three methods an implementer supplies.
package hook

import "github.com/pyr33x/goqttd/internal/packet"

// Hook is invoked by the connection loop (Authenticate, Connected) and by
// the router (Disconnect). It is trusted: a failure inside it is reported as
// an authentication denial or a disconnect, never escalated further.
type Hook interface {
	// Authenticate is called once per connection, right after CONNECT is
	// parsed and before any ConnAck is sent. login is nil when the CONNECT
	// carried no username/password.
	Authenticate(login *packet.Login) bool

	// Connected fires after a successful ConnAck has been written.
	Connected(clientID string)

	// Disconnect fires when the router archives a session, after a client
	// DISCONNECT or when the owning connection loop ends, graceful or not.
	// It does not fire for a connection superseded by a session takeover,
	// nor for one that ends before its CONNECT reaches the router.
	Disconnect(clientID string)
}

// Noop grants every connection and ignores lifecycle notifications. It is
// the broker's default hook.
type Noop struct{}

func (Noop) Authenticate(*packet.Login) bool { return true }
func (Noop) Connected(string)                {}
func (Noop) Disconnect(string)               {}
