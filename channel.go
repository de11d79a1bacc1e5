package gobayeux

import "strings"

// Channel represents a Bayeux Channel which is defined as "a string that
// looks like a URL path such as `/foo/bar`, `/meta/connect`, or
// `/service/chat`."
//
// See also: https://docs.cometd.org/current/reference/#_concepts_channels
type Channel string

const (
	// MetaHandshake is the Channel for the first message a new client sends.
	MetaHandshake Channel = "/meta/handshake"
	// MetaConnect is the Channel used for the long-poll request after a
	// successful handshake.
	MetaConnect Channel = "/meta/connect"
	// MetaDisconnect is the Channel used for disconnect messages.
	MetaDisconnect Channel = "/meta/disconnect"
	// MetaSubscribe is the Channel used by a client to subscribe to channels.
	MetaSubscribe Channel = "/meta/subscribe"
	// MetaUnsubscribe is the Channel used by a client to unsubscribe from
	// channels.
	MetaUnsubscribe Channel = "/meta/unsubscribe"
	emptyChannel    Channel = ""
)

// ChannelType is used to define the three types of channels:
// - meta channels, channels starting with `/meta/`
// - service channels, channels starting with `/service/`
// - broadcast channels, all other channels
type ChannelType string

const (
	// MetaChannel represents the `/meta/` channel type
	MetaChannel ChannelType = "meta"
	// ServiceChannel represents the `/service/` channel type
	ServiceChannel ChannelType = "service"
	// BroadcastChannel represents all other channels
	BroadcastChannel ChannelType = "broadcast"
)

const (
	metaPrefix    string = "/meta/"
	servicePrefix string = "/service/"
)

// Type provides the type of Channel this struct represents
func (c Channel) Type() ChannelType {
	s := string(c)
	switch {
	case strings.HasPrefix(s, metaPrefix):
		return MetaChannel
	case strings.HasPrefix(s, servicePrefix):
		return ServiceChannel
	default:
		return BroadcastChannel
	}
}

// HasWildcard indicates whether the Channel ends with * or **
func (c Channel) HasWildcard() bool {
	return strings.HasSuffix(string(c), "/*") || strings.HasSuffix(string(c), "/**")
}

// IsValid reports whether c is an absolute channel name whose only
// wildcard, if any, is the last segment.
func (c Channel) IsValid() bool {
	s := string(c)
	if !strings.HasPrefix(s, "/") || len(s) < 2 {
		return false
	}
	if strings.Contains(s, "//") {
		return false
	}
	if i := strings.Index(s, "*"); i >= 0 && !c.HasWildcard() {
		return false
	} else if i >= 0 && i < strings.LastIndexByte(s, '/') {
		return false
	}
	return true
}

// Match checks if a given Channel matches this Channel.
//
// See also: https://docs.cometd.org/current/reference/#_concepts_channels_wild
func (c Channel) Match(other Channel) bool {
	if !c.HasWildcard() {
		return c == other
	}

	self := string(c)
	index := strings.LastIndexByte(self, '/')
	prefix := self[:index+1]
	rest := strings.TrimPrefix(string(other), prefix)
	if rest == string(other) || rest == "" {
		return false
	}

	if self[index+1:] == "**" {
		return true
	}
	return !strings.Contains(rest, "/")
}
