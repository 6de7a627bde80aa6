// Package notebus adapts the modem sidecar's store-and-forward notefiles.
// The sidecar bridges each inbound notefile onto the MQTT topic
// note/in/<file>, accepts outbound notes on note/out/<file> (device-addressed
// files map to note/out/device/<uid>/<suffix>), and keeps its reconciled
// wall-clock on the retained topic note/time.
package notebus

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/snarg/tankwatch/internal/fault"
)

const (
	inboundPrefix  = "note/in/"
	outboundPrefix = "note/out/"
	timeTopic      = "note/time"

	// Per-file inbound buffer. The sidecar retries delivery, so dropping
	// the oldest buffered note under pressure loses only what a restart
	// would re-deliver anyway.
	bufferCap = 256
)

// Note is one decoded note drained from an inbound notefile.
type Note struct {
	Body  json.RawMessage
	Epoch float64
}

// envelope is the sidecar's wire wrapper around a note body.
type envelope struct {
	Body json.RawMessage `json:"body"`
	When float64         `json:"when"`
}

type timeMsg struct {
	Time float64 `json:"time"`
}

// Client is the bus adapter over MQTT.
type Client struct {
	conn      mqtt.Client
	timeout   time.Duration
	connected atomic.Bool
	log       zerolog.Logger

	mu      sync.Mutex
	buffers map[string][]Note
	dropped map[string]int64

	timeMu       sync.Mutex
	timeEpoch    float64
	timeReceived time.Time
}

type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Timeout   time.Duration
	Log       zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	c := &Client{
		timeout: timeout,
		log:     opts.Log,
		buffers: make(map[string][]Note),
		dropped: make(map[string]int64),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fault.Wrap(fault.Transport, err, "connect %s", opts.BrokerURL)
	}

	return c, nil
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Msg("bus connected, subscribing to notefiles")

	filters := map[string]byte{
		inboundPrefix + "#": 1,
		timeTopic:           0,
	}
	token := client.SubscribeMultiple(filters, c.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Msg("bus subscribe failed")
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("bus connection lost, will auto-reconnect")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	if topic == timeTopic {
		c.handleTime(msg.Payload())
		return
	}
	if !strings.HasPrefix(topic, inboundPrefix) {
		return
	}
	file := topic[len(inboundPrefix):]

	var env envelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil || len(env.Body) == 0 {
		c.log.Warn().Str("file", file).Msg("malformed note envelope, dropping")
		return
	}

	c.mu.Lock()
	buf := c.buffers[file]
	var droppedTotal int64
	if len(buf) >= bufferCap {
		buf = buf[1:]
		c.dropped[file]++
		droppedTotal = c.dropped[file]
	}
	c.buffers[file] = append(buf, Note{Body: env.Body, Epoch: env.When})
	c.mu.Unlock()

	if droppedTotal > 0 {
		c.log.Warn().Str("file", file).Int64("dropped", droppedTotal).Msg("inbound buffer full, dropped oldest note")
	}
}

func (c *Client) handleTime(payload []byte) {
	var tm timeMsg
	if err := json.Unmarshal(payload, &tm); err != nil || tm.Time <= 0 {
		return
	}
	c.timeMu.Lock()
	c.timeEpoch = tm.Time
	c.timeReceived = time.Now()
	c.timeMu.Unlock()
}

// Drain removes up to max notes from the named inbound notefile in FIFO
// order. Returns nil when the file is empty.
func (c *Client) Drain(file string, max int) []Note {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf := c.buffers[file]
	if len(buf) == 0 {
		return nil
	}
	n := max
	if n > len(buf) {
		n = len(buf)
	}
	out := make([]Note, n)
	copy(out, buf[:n])
	c.buffers[file] = buf[n:]
	return out
}

// Pending returns the number of buffered notes for a file.
func (c *Client) Pending(file string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffers[file])
}

// PendingTotal returns the number of buffered notes across all files.
func (c *Client) PendingTotal() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, buf := range c.buffers {
		total += len(buf)
	}
	return total
}

// Enqueue publishes a note body to the named outbound notefile. File names
// of the form device:<uid>:<suffix> address a single client. When sync is
// true the call blocks until the broker acks or the timeout elapses;
// otherwise delivery failures are logged only.
func (c *Client) Enqueue(file string, body any, sync bool) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fault.Wrap(fault.Validation, err, "encode note for %s", file)
	}

	topic := outboundTopic(file)
	token := c.conn.Publish(topic, 1, false, data)
	if !sync {
		go func() {
			token.Wait()
			if err := token.Error(); err != nil {
				c.log.Warn().Err(err).Str("file", file).Msg("async note publish failed")
			}
		}()
		return nil
	}

	if !token.WaitTimeout(c.timeout) {
		return fault.New(fault.Transport, "publish to %s timed out", file)
	}
	if err := token.Error(); err != nil {
		return fault.Wrap(fault.UpstreamRejected, err, "publish to %s", file)
	}
	return nil
}

// outboundTopic maps a notefile name to its MQTT topic. The device:<uid>:<suffix>
// form becomes note/out/device/<uid>/<suffix>. Device UIDs contain colons,
// so the suffix is split off at the last one.
func outboundTopic(file string) string {
	if rest, ok := strings.CutPrefix(file, "device:"); ok {
		if i := strings.LastIndex(rest, ":"); i > 0 {
			return outboundPrefix + "device/" + rest[:i] + "/" + rest[i+1:]
		}
	}
	return outboundPrefix + file
}

// CurrentTime returns the sidecar's reconciled wall-clock, advanced by the
// time elapsed since it was last published. Returns false before the first
// time message arrives.
func (c *Client) CurrentTime() (float64, bool) {
	c.timeMu.Lock()
	defer c.timeMu.Unlock()
	if c.timeEpoch == 0 {
		return 0, false
	}
	return c.timeEpoch + time.Since(c.timeReceived).Seconds(), true
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting bus client")
	c.conn.Disconnect(1000)
}
