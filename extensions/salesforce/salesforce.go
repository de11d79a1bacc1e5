// Package salesforce configures gobayeux for the Salesforce Streaming API,
// which serves Bayeux under /cometd/<api version> and authenticates every
// request with an OAuth access token.
package salesforce

import (
	"errors"
	"strings"

	"github.com/sioux-io/gobayeux"
)

// DefaultAPIVersion is used when no API version is given
const DefaultAPIVersion = "57.0"

// StaticTokenAuthenticator adds your Salesforce Access Token to every
// request sent on a connection
type StaticTokenAuthenticator struct {
	// Token is the string obtained either from the Salesforce CX CLI (for
	// example). You can also retrieve this by using the curl command on
	// https://developer.salesforce.com/docs/atlas.en-us.api_iot.meta/api_iot/qs_auth_access_token.htm
	Token string
	// APIVersion selects the /cometd/<version> endpoint
	APIVersion string
}

// Options returns the gobayeux options that point a Connection or Session
// at the streaming endpoint with the token attached
func (a *StaticTokenAuthenticator) Options() ([]gobayeux.Option, error) {
	if a.Token == "" {
		return nil, errors.New("no Token provided to authenticator")
	}
	version := strings.TrimPrefix(a.APIVersion, "v")
	if version == "" {
		version = DefaultAPIVersion
	}
	return []gobayeux.Option{
		gobayeux.WithPath("/cometd/" + version),
		gobayeux.WithHeader("Authorization", "Bearer "+a.Token),
	}, nil
}
