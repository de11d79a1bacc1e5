package gobayeux

// MessageExtender defines the interface that extensions are expected to
// implement. Outgoing sees every message a Session sends, Incoming every
// message it receives.
type MessageExtender interface {
	Outgoing(*Message)
	Incoming(*Message)
	Registered(extensionName string, session *Session)
	Unregistered()
}
