package gobayeux

import (
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/publicsuffix"
)

// DefaultPath is the HTTP path the Bayeux protocol is mounted at unless
// WithPath says otherwise
const DefaultPath = "/"

// Options configures a Connection, a Session or a Client
type Options struct {
	// Address is the host:port dialed when a Session creates its own
	// Connection
	Address string
	// Path is the HTTP path every request is POSTed to
	Path string
	// Host overrides the Host header; defaults to Address
	Host string
	// Header is added to every request
	Header http.Header
	// DialTimeout bounds establishing the TCP connection
	DialTimeout time.Duration
	// KeepAlive is the TCP keep-alive period
	KeepAlive time.Duration
	// WriteTimeout bounds writing a single request frame; zero means no
	// bound
	WriteTimeout time.Duration
	// Jar stores cookies set by the server, such as BAYEUX_BROWSER
	Jar http.CookieJar
	// Logger receives library logging
	Logger Logger
	// Extensions are registered with every Session built from these options
	Extensions []MessageExtender
}

// Option mutates Options
type Option func(*Options)

func newOptions(opts ...Option) (*Options, error) {
	options := &Options{
		Path:        DefaultPath,
		DialTimeout: 5 * time.Second,
		KeepAlive:   30 * time.Second,
		Header:      make(http.Header),
		Logger:      newNullLogger(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, err
		}
		options.Jar = jar
	}
	return options, nil
}

// WithAddress sets the host:port a Session dials when it is not handed a
// Connection
func WithAddress(address string) Option {
	return func(options *Options) {
		options.Address = address
	}
}

// WithPath sets the HTTP path the protocol is mounted at
func WithPath(path string) Option {
	return func(options *Options) {
		if path == "" {
			path = DefaultPath
		}
		options.Path = path
	}
}

// WithHost overrides the Host header sent with every request
func WithHost(host string) Option {
	return func(options *Options) {
		options.Host = host
	}
}

// WithHeader adds a header sent with every request
func WithHeader(key, value string) Option {
	return func(options *Options) {
		options.Header.Add(key, value)
	}
}

// WithDialTimeout bounds how long dialing the server may take
func WithDialTimeout(d time.Duration) Option {
	return func(options *Options) {
		options.DialTimeout = d
	}
}

// WithWriteTimeout bounds how long writing one request may take
func WithWriteTimeout(d time.Duration) Option {
	return func(options *Options) {
		options.WriteTimeout = d
	}
}

// WithCookieJar replaces the default public-suffix aware cookie jar
func WithCookieJar(jar http.CookieJar) Option {
	return func(options *Options) {
		options.Jar = jar
	}
}

// WithExtension registers ext with every Session built from these options
func WithExtension(ext MessageExtender) Option {
	return func(options *Options) {
		options.Extensions = append(options.Extensions, ext)
	}
}
