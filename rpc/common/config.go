package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Version of the client, announced in the CONNECT handshake. Set at build time with
// -ldflags "-X github.com/ValentinKolb/wBridge/rpc/common.Version=..."
var Version = "0.1.0"

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	// DefaultRetryCount is the number of extra attempts after the first one
	DefaultRetryCount = 3
	// DefaultQueueSize is the capacity of the work queue of a single connection
	DefaultQueueSize = 1024
	// DefaultTimeoutSecond is the request timeout used when a call does not pass one
	DefaultTimeoutSecond = 5
	// MinRequestTimeout is the lower bound for a single request/reply round trip
	MinRequestTimeout = 2 * time.Second
	// DefaultPingIntervalSec is the client keep-alive interval
	DefaultPingIntervalSec = 120
	// DefaultMaxPingsOut is the number of unanswered keep-alive pings before the connection is declared lost
	DefaultMaxPingsOut = 2
	// DefaultQueueGroup is the queue group the catalog responder subscribes with
	DefaultQueueGroup = "wbridge-server"
)

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// SocketConf holds socket buffer sizes (in bytes)
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds tcp specific socket options
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// ClientTransportConfig configures how connections to the message server are made
type ClientTransportConfig struct {
	// Endpoints in the form nats://[user:pass@]host:port or host:port
	Endpoints              []string
	ConnectionsPerEndpoint int
	// QueueSize is the capacity of the per connection work queue
	QueueSize int
	// Name is announced to the server in the CONNECT handshake
	Name string
	// User and Password are used when the endpoint does not carry credentials
	User     string
	Password string
	// Keep-alive
	PingIntervalSec int
	MaxPingsOut     int

	SocketConf
	TCPConf
}

// ClientConfig is the configuration of an RPC client
type ClientConfig struct {
	// TimeoutSecond is the default timeout of a single request/reply round trip
	// and of the connection handshake
	TimeoutSecond int
	// RetryCount is the number of extra attempts for retried calls
	RetryCount int
	Transport  ClientTransportConfig
}

// DefaultClientConfig returns a configuration for a single local server
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		TimeoutSecond: DefaultTimeoutSecond,
		RetryCount:    DefaultRetryCount,
		Transport: ClientTransportConfig{
			Endpoints:              []string{"nats://localhost:4222"},
			ConnectionsPerEndpoint: 1,
			QueueSize:              DefaultQueueSize,
			Name:                   "wbridge",
			PingIntervalSec:        DefaultPingIntervalSec,
			MaxPingsOut:            DefaultMaxPingsOut,
			TCPConf:                TCPConf{TCPNoDelay: true},
		},
	}
}

// RequestTimeout returns the configured request timeout, never below MinRequestTimeout
func (c *ClientConfig) RequestTimeout() time.Duration {
	timeout := time.Duration(c.TimeoutSecond) * time.Second
	if timeout < MinRequestTimeout {
		return MinRequestTimeout
	}
	return timeout
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-26s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(max(1, c.Transport.ConnectionsPerEndpoint)))
	addField("Queue Size", strconv.Itoa(c.Transport.QueueSize))
	addField("Client Name", c.Transport.Name)
	addField("Ping Interval", fmt.Sprintf("%d sec", c.Transport.PingIntervalSec))
	addField("Max Pings Out", strconv.Itoa(c.Transport.MaxPingsOut))

	addSection("Socket")
	addField("TCP NoDelay", strconv.FormatBool(c.Transport.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.Transport.TCPKeepAliveSec))
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Transport.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Transport.ReadBufferSize))

	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), RedactEndpoint(endpoint))
	}

	return sb.String()
}

// RedactEndpoint hides the password of an endpoint url
func RedactEndpoint(endpoint string) string {
	scheme := ""
	rest := endpoint
	if i := strings.Index(rest, "://"); i >= 0 {
		scheme, rest = rest[:i+3], rest[i+3:]
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return endpoint
	}
	userInfo := rest[:at]
	if colon := strings.Index(userInfo, ":"); colon >= 0 {
		userInfo = userInfo[:colon] + ":***"
	}
	return scheme + userInfo + rest[at:]
}

// --------------------------------------------------------------------------
// Catalog server configuration struct
// --------------------------------------------------------------------------

// ServerConfig configures the catalog responder started by `wbridge serve`
type ServerConfig struct {
	// Client is used to connect the responder to the message server
	Client ClientConfig
	// QueueGroup load balances requests across responder instances
	QueueGroup string
	// Workers bounds the number of requests handled concurrently
	Workers int

	// Embedded starts an in-process message server on EmbeddedHost:EmbeddedPort
	Embedded     bool
	EmbeddedHost string
	EmbeddedPort int

	// MetricsEndpoint serves /metrics when not empty
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-26s: %s\n", name, value))
	}

	addSection("Catalog Server")
	addField("Queue Group", c.QueueGroup)
	addField("Workers", strconv.Itoa(c.Workers))
	addField("Metrics Endpoint", c.MetricsEndpoint)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	if c.Embedded {
		addSection("Embedded Message Server")
		addField("Address", fmt.Sprintf("%s:%d", c.EmbeddedHost, c.EmbeddedPort))
	}

	sb.WriteString(c.Client.String())
	return sb.String()
}
