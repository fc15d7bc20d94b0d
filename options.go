package qdriver

import (
	"log"
	"time"
)

// Default configuration values, as specified for Connect.
const (
	DefaultHost           = "localhost"
	DefaultPort           = 28015
	DefaultConnectTimeout = 20 * time.Second
	DefaultUser           = "admin"
	DefaultQueryTimeout   = 5 * time.Second
	DefaultCallTimeout    = time.Hour
)

// TCPOptions are transport-layer hints forwarded to the dialer. There is
// no field for framing mode (active/passive) or payload shape (binary
// vs. text): the driver asserts those choices itself.
type TCPOptions struct {
	KeepAlive     time.Duration
	NoDelay       bool
	ReadBufBytes  int
	WriteBufBytes int
}

// Options configures Connect. The zero value is not directly usable;
// use NewOptions or the With* functional options to fill in defaults.
type Options struct {
	Host     string
	Port     int
	User     string
	Password string

	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	CallTimeout    time.Duration

	TCP TCPOptions

	Logger *log.Logger

	Codec        Codec
	Scram        ScramClient
	QueryBuilder QueryBuilder
}

// Option mutates an Options in place.
type Option func(*Options)

// NewOptions builds an Options pre-filled with every spec-mandated
// default, then applies opts in order.
func NewOptions(opts ...Option) Options {
	o := Options{
		Host:           DefaultHost,
		Port:           DefaultPort,
		User:           DefaultUser,
		Password:       "",
		ConnectTimeout: DefaultConnectTimeout,
		QueryTimeout:   DefaultQueryTimeout,
		CallTimeout:    DefaultCallTimeout,
		Logger:         log.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithHost(host string) Option { return func(o *Options) { o.Host = host } }
func WithPort(port int) Option { return func(o *Options) { o.Port = port } }
func WithCredentials(user, password string) Option {
	return func(o *Options) { o.User, o.Password = user, password }
}
func WithConnectTimeout(d time.Duration) Option { return func(o *Options) { o.ConnectTimeout = d } }

// WithQueryTimeout sets the default per-query timeout applied when a
// caller submits a query with a zero timeout.
func WithQueryTimeout(d time.Duration) Option { return func(o *Options) { o.QueryTimeout = d } }
func WithCallTimeout(d time.Duration) Option { return func(o *Options) { o.CallTimeout = d } }
func WithTCPOptions(t TCPOptions) Option { return func(o *Options) { o.TCP = t } }
func WithLogger(l *log.Logger) Option { return func(o *Options) { o.Logger = l } }
func WithCodec(c Codec) Option { return func(o *Options) { o.Codec = c } }
func WithScram(s ScramClient) Option { return func(o *Options) { o.Scram = s } }
func WithQueryBuilder(q QueryBuilder) Option { return func(o *Options) { o.QueryBuilder = q } }

// queryTimeout resolves a per-call timeout: a zero value falls back to
// the connection's configured default.
func (o *Options) queryTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return o.QueryTimeout
	}
	return requested
}
