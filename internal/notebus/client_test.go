package notebus

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestOutboundTopic(t *testing.T) {
	tests := []struct {
		name string
		file string
		want string
	}{
		{"broadcast", "sms.qo", "note/out/sms.qo"},
		{"email", "email.qo", "note/out/email.qo"},
		{"device_simple", "device:abc123:config.qi", "note/out/device/abc123/config.qi"},
		{"device_uid_with_colons", "device:dev:A:relay.qi", "note/out/device/dev:A/relay.qi"},
		{"device_prefix_no_suffix", "device:orphan", "note/out/device:orphan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := outboundTopic(tt.file); got != tt.want {
				t.Errorf("outboundTopic(%q) = %q, want %q", tt.file, got, tt.want)
			}
		})
	}
}

func testClient() *Client {
	return &Client{
		log:     zerolog.Nop(),
		buffers: make(map[string][]Note),
		dropped: make(map[string]int64),
	}
}

type stubMessage struct {
	topic   string
	payload []byte
}

func (m stubMessage) Duplicate() bool   { return false }
func (m stubMessage) Qos() byte         { return 1 }
func (m stubMessage) Retained() bool    { return false }
func (m stubMessage) Topic() string     { return m.topic }
func (m stubMessage) MessageID() uint16 { return 0 }
func (m stubMessage) Payload() []byte   { return m.payload }
func (m stubMessage) Ack()              {}

func TestOnMessageBuffersAndDrains(t *testing.T) {
	c := testClient()

	for i := 0; i < 3; i++ {
		payload := []byte(`{"body":{"seq":` + string(rune('0'+i)) + `},"when":100}`)
		c.onMessage(nil, stubMessage{topic: "note/in/telemetry.qi", payload: payload})
	}

	if got := c.Pending("telemetry.qi"); got != 3 {
		t.Fatalf("Pending = %d, want 3", got)
	}
	if got := c.PendingTotal(); got != 3 {
		t.Fatalf("PendingTotal = %d, want 3", got)
	}

	// Bounded drain preserves FIFO order.
	first := c.Drain("telemetry.qi", 2)
	if len(first) != 2 {
		t.Fatalf("Drain(2) = %d notes", len(first))
	}
	var seq struct {
		Seq int `json:"seq"`
	}
	if err := json.Unmarshal(first[0].Body, &seq); err != nil || seq.Seq != 0 {
		t.Errorf("first drained note = %s", first[0].Body)
	}
	if first[0].Epoch != 100 {
		t.Errorf("Epoch = %v, want 100", first[0].Epoch)
	}

	rest := c.Drain("telemetry.qi", 10)
	if len(rest) != 1 {
		t.Fatalf("second Drain = %d notes", len(rest))
	}
	if c.Drain("telemetry.qi", 10) != nil {
		t.Error("empty file did not return nil")
	}
}

func TestOnMessageDropsMalformedEnvelope(t *testing.T) {
	c := testClient()

	c.onMessage(nil, stubMessage{topic: "note/in/alarm.qi", payload: []byte(`{broken`)})
	c.onMessage(nil, stubMessage{topic: "note/in/alarm.qi", payload: []byte(`{"when":100}`)})
	c.onMessage(nil, stubMessage{topic: "unrelated/topic", payload: []byte(`{"body":{}}`)})

	if got := c.PendingTotal(); got != 0 {
		t.Errorf("PendingTotal = %d after malformed input", got)
	}
}

func TestOnMessageBufferOverflow(t *testing.T) {
	c := testClient()

	for i := 0; i < bufferCap+5; i++ {
		c.onMessage(nil, stubMessage{
			topic:   "note/in/telemetry.qi",
			payload: []byte(`{"body":{},"when":` + jsonFloat(float64(i)) + `}`),
		})
	}

	if got := c.Pending("telemetry.qi"); got != bufferCap {
		t.Fatalf("Pending = %d, want %d", got, bufferCap)
	}
	// Oldest five dropped.
	notes := c.Drain("telemetry.qi", 1)
	if notes[0].Epoch != 5 {
		t.Errorf("oldest surviving epoch = %v, want 5", notes[0].Epoch)
	}
	if c.dropped["telemetry.qi"] != 5 {
		t.Errorf("dropped counter = %d, want 5", c.dropped["telemetry.qi"])
	}
}

func jsonFloat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

func TestCurrentTime(t *testing.T) {
	c := testClient()

	if _, ok := c.CurrentTime(); ok {
		t.Fatal("CurrentTime reported ok before any time message")
	}

	c.onMessage(nil, stubMessage{topic: "note/time", payload: []byte(`{"time":1700000000}`)})
	epoch, ok := c.CurrentTime()
	if !ok {
		t.Fatal("CurrentTime not ok after time message")
	}
	if epoch < 1700000000 || epoch > 1700000001 {
		t.Errorf("epoch = %v, want about 1700000000", epoch)
	}

	// Garbage and non-positive values leave the sync untouched.
	c.onMessage(nil, stubMessage{topic: "note/time", payload: []byte(`{"time":0}`)})
	c.onMessage(nil, stubMessage{topic: "note/time", payload: []byte(`nope`)})
	if epoch, ok := c.CurrentTime(); !ok || epoch < 1700000000 {
		t.Errorf("bad time message clobbered the sync: %v %v", epoch, ok)
	}
}
