package gobayeux

import (
	"encoding/json"
	"strconv"
	"strings"
)

// HandshakeRequestBuilder provides a way to safely and confidently create
// handshake requests to /meta/handshake.
//
// See also: https://docs.cometd.org/current/reference/#_handshake_request
type HandshakeRequestBuilder struct {
	version                  string
	supportedConnectionTypes []string
	minimumVersion           string
}

// NewHandshakeRequestBuilder returns an empty HandshakeRequestBuilder
func NewHandshakeRequestBuilder() *HandshakeRequestBuilder {
	return &HandshakeRequestBuilder{
		supportedConnectionTypes: make([]string, 0),
	}
}

// AddSupportedConnectionType adds connectionType to the list advertised in
// the handshake. Duplicates are ignored.
func (b *HandshakeRequestBuilder) AddSupportedConnectionType(connectionType string) error {
	switch connectionType {
	case ConnectionTypeCallbackPolling, ConnectionTypeLongPolling:
		for _, ct := range b.supportedConnectionTypes {
			if ct == connectionType {
				return nil
			}
		}
		b.supportedConnectionTypes = append(b.supportedConnectionTypes, connectionType)
	default:
		return BadConnectionTypeError{connectionType}
	}
	return nil
}

// AddVersion accepts the version of the Bayeux protocol that the client
// supports.
func (b *HandshakeRequestBuilder) AddVersion(version string) error {
	if err := validateVersion(version); err != nil {
		return err
	}
	b.version = version
	return nil
}

// AddMinimumVersion adds the minimum supported version
func (b *HandshakeRequestBuilder) AddMinimumVersion(version string) error {
	if err := validateVersion(version); err != nil {
		return err
	}
	b.minimumVersion = version
	return nil
}

// Build generates the final Message to be sent as a Handshake Request
func (b *HandshakeRequestBuilder) Build() (Message, error) {
	if len(b.supportedConnectionTypes) < 1 {
		return Message{}, ErrNoSupportedConnectionTypes
	}
	if len(b.version) == 0 {
		return Message{}, ErrNoVersion
	}
	return Message{
		Channel:                  MetaHandshake,
		Version:                  b.version,
		MinimumVersion:           b.minimumVersion,
		SupportedConnectionTypes: b.supportedConnectionTypes,
	}, nil
}

func validateVersion(version string) error {
	if len(version) < 1 {
		return BadConnectionVersionError{version}
	}
	pieces := strings.SplitN(version, ".", 2)
	if _, err := strconv.Atoi(pieces[0]); err != nil {
		return BadConnectionVersionError{version}
	}
	return nil
}

// ConnectRequestBuilder builds a /meta/connect request.
//
// See also: https://docs.cometd.org/current/reference/#_connect_request
type ConnectRequestBuilder struct {
	connectionType string
}

// NewConnectRequestBuilder returns an empty ConnectRequestBuilder
func NewConnectRequestBuilder() *ConnectRequestBuilder {
	return &ConnectRequestBuilder{}
}

// AddConnectionType sets the transport used for this connect request
func (b *ConnectRequestBuilder) AddConnectionType(connectionType string) error {
	switch connectionType {
	case ConnectionTypeCallbackPolling, ConnectionTypeLongPolling:
		b.connectionType = connectionType
	default:
		return BadConnectionTypeError{connectionType}
	}
	return nil
}

// Build generates the final Message to be sent as a Connect Request
func (b *ConnectRequestBuilder) Build() (Message, error) {
	if b.connectionType == "" {
		return Message{}, ErrMissingConnectionType
	}
	return Message{Channel: MetaConnect, ConnectionType: b.connectionType}, nil
}

// SubscriptionRequestBuilder builds /meta/subscribe and /meta/unsubscribe
// requests for a single channel.
//
// See also: https://docs.cometd.org/current/reference/#_subscribe_request
type SubscriptionRequestBuilder struct {
	meta         Channel
	subscription Channel
}

// NewSubscribeRequestBuilder returns a builder for /meta/subscribe
func NewSubscribeRequestBuilder() *SubscriptionRequestBuilder {
	return &SubscriptionRequestBuilder{meta: MetaSubscribe}
}

// NewUnsubscribeRequestBuilder returns a builder for /meta/unsubscribe
func NewUnsubscribeRequestBuilder() *SubscriptionRequestBuilder {
	return &SubscriptionRequestBuilder{meta: MetaUnsubscribe}
}

// SetSubscription validates and records the channel being (un)subscribed
func (b *SubscriptionRequestBuilder) SetSubscription(c Channel) error {
	if !c.IsValid() {
		return InvalidChannelError{c}
	}
	b.subscription = c
	return nil
}

// Build generates the final Message
func (b *SubscriptionRequestBuilder) Build() (Message, error) {
	if b.subscription == emptyChannel {
		return Message{}, EmptySliceError("subscriptions")
	}
	return Message{Channel: b.meta, Subscription: b.subscription}, nil
}

// PublishRequestBuilder builds a message published to an application
// channel.
//
// See also: https://docs.cometd.org/current/reference/#_publish_event_message
type PublishRequestBuilder struct {
	channel Channel
	data    json.RawMessage
}

// NewPublishRequestBuilder returns an empty PublishRequestBuilder
func NewPublishRequestBuilder() *PublishRequestBuilder {
	return &PublishRequestBuilder{}
}

// SetChannel sets the destination channel. Meta channels and wildcards
// cannot be published to.
func (b *PublishRequestBuilder) SetChannel(c Channel) error {
	if !c.IsValid() || c.HasWildcard() || c.Type() == MetaChannel {
		return InvalidChannelError{c}
	}
	b.channel = c
	return nil
}

// SetData encodes data as the message payload. A json.RawMessage is used
// verbatim.
func (b *PublishRequestBuilder) SetData(data interface{}) error {
	if raw, ok := data.(json.RawMessage); ok {
		b.data = raw
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	b.data = raw
	return nil
}

// Build generates the final Message
func (b *PublishRequestBuilder) Build() (Message, error) {
	if b.channel == emptyChannel {
		return Message{}, InvalidChannelError{b.channel}
	}
	if b.data == nil {
		b.data = json.RawMessage("null")
	}
	return Message{Channel: b.channel, Data: b.data}, nil
}

// NewDisconnectRequest returns the /meta/disconnect message
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_meta_disconnect
func NewDisconnectRequest() Message {
	return Message{Channel: MetaDisconnect}
}
