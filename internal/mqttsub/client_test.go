package mqttsub

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-station/internal/config"
	"weather-station/internal/decoder"
	"weather-station/internal/record"
)

const validPayload = `{"temperature":25.5,"humidity":60.0,"co2":500.0,"flammable_gas":100.0,"toxic_gas":80.0,` +
	`"uv_index":6.0,"battery":3.8,"latitude":-19.869374,"longitude":-43.963795,"altitude":750.0,` +
	`"satellites":10,"fix_quality":1}`

// fakeToken je hotový token, volitelně s chybou nebo timeoutem.
type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeBroker nahrazuje paho klienta. Neimplementované metody zpanikaří (nil embed).
type fakeBroker struct {
	mqtt.Client

	mu           sync.Mutex
	connectTok   *fakeToken
	subscribeTok *fakeToken
	callback     mqtt.MessageHandler
	published    []string
	disconnected int
}

func (f *fakeBroker) Connect() mqtt.Token {
	if f.connectTok != nil {
		return f.connectTok
	}
	return &fakeToken{}
}

func (f *fakeBroker) Subscribe(_ string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callback = cb
	if f.subscribeTok != nil {
		return f.subscribeTok
	}
	return &fakeToken{}
}

func (f *fakeBroker) Publish(topic string, _ byte, _ bool, _ interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, topic)
	return &fakeToken{}
}

func (f *fakeBroker) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected++
}

// deliver simuluje příchozí zprávu na odebíraném topicu.
func (f *fakeBroker) deliver(t *testing.T, payload string) {
	t.Helper()
	f.mu.Lock()
	cb := f.callback
	f.mu.Unlock()
	require.NotNil(t, cb, "subscribe must happen before delivery")
	cb(f, &fakeMessage{topic: "pse/weather_system/sensors", payload: []byte(payload)})
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

type harness struct {
	client   *Client
	broker   *fakeBroker
	records  chan record.Record
	rejected chan error
	states   chan bool
}

func newHarness(t *testing.T, handler Handler, stopTimeout time.Duration) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		broker:   &fakeBroker{},
		records:  make(chan record.Record, 16),
		rejected: make(chan error, 16),
		states:   make(chan bool, 16),
	}
	if handler == nil {
		handler = func(rec record.Record) { h.records <- rec }
	}
	cfg := config.MQTTConfig{
		Host: "localhost", Port: 1883, Topic: "pse/weather_system/sensors", QoS: 1,
		ClientID: "test", KeepAlive: 60, ConnectTimeout: time.Second, StopTimeout: stopTimeout,
	}
	h.client = New(cfg, decoder.New("UTC", logger), handler, logger,
		WithRejectHook(func(_ []byte, err error) { h.rejected <- err }),
		WithStateHook(func(connected bool) { h.states <- connected }),
	)
	h.client.client = h.broker
	return h
}

func (h *harness) waitRecord(t *testing.T) record.Record {
	t.Helper()
	select {
	case rec := <-h.records:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
		return record.Record{}
	}
}

func (h *harness) waitReject(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.rejected:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("reject hook was not called")
		return nil
	}
}

func TestConnectAndSubscribe(t *testing.T) {
	h := newHarness(t, nil, 0)
	assert.Equal(t, StateDisconnected, h.client.State())

	require.NoError(t, h.client.Connect())
	assert.Equal(t, StateConnecting, h.client.State())

	h.client.onConnect(h.broker)
	assert.Equal(t, StateSubscribed, h.client.State())
	assert.True(t, h.client.IsConnected())
	assert.True(t, <-h.states)
}

func TestConnectFailure(t *testing.T) {
	h := newHarness(t, nil, 0)
	h.broker.connectTok = &fakeToken{err: errors.New("connection refused")}

	err := h.client.Connect()
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "tcp://localhost:1883", connErr.Broker)
	assert.Equal(t, StateDisconnected, h.client.State())
}

func TestConnectTimeout(t *testing.T) {
	h := newHarness(t, nil, 0)
	h.broker.connectTok = &fakeToken{timeout: true}

	err := h.client.Connect()
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Contains(t, err.Error(), "CONNACK")
	assert.Equal(t, StateDisconnected, h.client.State())
}

func TestSubscribeFailureKeepsConnection(t *testing.T) {
	h := newHarness(t, nil, 0)
	h.broker.subscribeTok = &fakeToken{err: errors.New("not authorized")}

	require.NoError(t, h.client.Connect())
	h.client.onConnect(h.broker)

	assert.True(t, h.client.IsConnected())
	assert.NotEqual(t, StateSubscribed, h.client.State())
	assert.Zero(t, h.broker.disconnected)
}

func TestDeliversDecodedRecord(t *testing.T) {
	h := newHarness(t, nil, 0)
	h.client.onConnect(h.broker)
	require.NoError(t, h.client.Start())

	h.broker.deliver(t, validPayload)

	rec := h.waitRecord(t)
	assert.InDelta(t, 25.5, rec.Readings().TemperatureC, 1e-9)
	require.NotNil(t, rec.GPS().Satellites)
	assert.Equal(t, 10, *rec.GPS().Satellites)

	require.NoError(t, h.client.Stop())
	assert.Empty(t, h.records, "handler called exactly once")
}

func TestBadMessagesDoNotStopDelivery(t *testing.T) {
	h := newHarness(t, nil, 0)
	h.client.onConnect(h.broker)
	require.NoError(t, h.client.Start())

	h.broker.deliver(t, `{"temperature":`)
	h.broker.deliver(t, `{"temperature":200.0,"humidity":50.0,"co2":1,"flammable_gas":1,"toxic_gas":1,"uv_index":1,"battery":1}`)
	h.broker.deliver(t, validPayload)

	var decErr *decoder.DecodeError
	assert.ErrorAs(t, h.waitReject(t), &decErr)

	var valErr *record.ValidationError
	require.ErrorAs(t, h.waitReject(t), &valErr)
	assert.Equal(t, "temperature_c", valErr.Field)

	h.waitRecord(t)
	require.NoError(t, h.client.Stop())
}

func TestHandlerPanicIsContained(t *testing.T) {
	var calls int
	records := make(chan struct{}, 4)
	h := newHarness(t, func(record.Record) {
		calls++
		records <- struct{}{}
		if calls == 1 {
			panic("boom")
		}
	}, 0)
	h.client.onConnect(h.broker)
	require.NoError(t, h.client.Start())

	h.broker.deliver(t, validPayload)
	h.broker.deliver(t, validPayload)

	for i := 0; i < 2; i++ {
		select {
		case <-records:
		case <-time.After(2 * time.Second):
			t.Fatal("delivery died after panic")
		}
	}
	require.NoError(t, h.client.Stop())
}

func TestStopDrainsQueue(t *testing.T) {
	h := newHarness(t, nil, 0)
	h.client.onConnect(h.broker)

	// Zprávy čekají ve frontě, doručování ještě neběží.
	for i := 0; i < 3; i++ {
		h.broker.deliver(t, validPayload)
	}
	require.NoError(t, h.client.Start())
	require.NoError(t, h.client.Stop())

	assert.Len(t, h.records, 3)
	assert.Equal(t, StateStopped, h.client.State())
	assert.False(t, h.client.IsConnected())
	assert.Equal(t, 1, h.broker.disconnected)
}

func TestStopTimeout(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	h := newHarness(t, func(record.Record) {
		close(entered)
		<-release
	}, 50*time.Millisecond)
	h.client.onConnect(h.broker)
	require.NoError(t, h.client.Start())

	h.broker.deliver(t, validPayload)
	<-entered

	assert.ErrorIs(t, h.client.Stop(), ErrStopTimeout)
	close(release)
}

func TestStopIsIdempotentAndTerminal(t *testing.T) {
	h := newHarness(t, nil, 0)

	require.NoError(t, h.client.Stop())
	require.NoError(t, h.client.Stop())
	assert.Equal(t, 1, h.broker.disconnected)

	h.client.onConnect(h.broker)
	assert.Equal(t, StateStopped, h.client.State())
	assert.ErrorIs(t, h.client.Start(), ErrStopped)
	assert.ErrorIs(t, h.client.Connect(), ErrStopped)

	// Po zastavení se zprávy zahazují, nic neblokuje.
	h.broker.deliver(t, validPayload)
	assert.Empty(t, h.records)
}

func TestConnectionLost(t *testing.T) {
	h := newHarness(t, nil, 0)
	h.client.onConnect(h.broker)
	assert.True(t, <-h.states)

	h.client.onConnectionLost(h.broker, errors.New("EOF"))
	assert.False(t, h.client.IsConnected())
	assert.Equal(t, StateDisconnected, h.client.State())
	assert.False(t, <-h.states)
}

func TestPublishOnlyWhenConnected(t *testing.T) {
	h := newHarness(t, nil, 0)

	h.client.Publish("logs/sensor-ingestor", []byte("x"))
	assert.Empty(t, h.broker.published)

	h.client.onConnect(h.broker)
	h.client.Publish("logs/sensor-ingestor", []byte("x"))
	assert.Equal(t, []string{"logs/sensor-ingestor"}, h.broker.published)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "subscribed", StateSubscribed.String())
	assert.Equal(t, "stopped", StateStopped.String())
}
