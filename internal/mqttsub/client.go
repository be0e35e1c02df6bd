// Package mqttsub drží spojení s MQTT brokerem a doručuje dekódované záznamy
// jedinému registrovanému handleru.
package mqttsub

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"weather-station/internal/config"
	"weather-station/internal/decoder"
	"weather-station/internal/record"
)

// DefaultQueueSize je kapacita fronty mezi paho callbackem a doručovací goroutinou.
const DefaultQueueSize = 64

const defaultStopTimeout = 5 * time.Second

var (
	// ErrStopTimeout: doručovací goroutina nedoběhla v časovém limitu Stop.
	ErrStopTimeout = errors.New("mqttsub: delivery did not stop in time")
	// ErrStopped: klient už byl zastaven, znovu ho spustit nelze.
	ErrStopped = errors.New("mqttsub: client stopped")
)

// ConnectionError vrací Connect, když se nepodaří navázat spojení s brokerem.
type ConnectionError struct {
	Broker string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mqtt connection to %s failed: %v", e.Broker, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// State je stav klienta.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Decoder převádí payload na Record.
type Decoder interface {
	Decode(payload []byte) (record.Record, error)
}

// Handler dostane každý úspěšně dekódovaný záznam právě jednou.
type Handler func(rec record.Record)

// RejectHook dostane zprávu, kterou dekodér odmítl.
type RejectHook func(payload []byte, err error)

// StateHook se volá při každé změně připojení.
type StateHook func(connected bool)

// Option upravuje Client při vytváření.
type Option func(*Client)

func WithRejectHook(h RejectHook) Option { return func(c *Client) { c.onReject = h } }

func WithStateHook(h StateHook) Option { return func(c *Client) { c.onState = h } }

func WithQueueSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// Client zapouzdřuje paho klienta.
//
// Paho volá message callback ve vlastní goroutině. Callback jen vloží payload
// do fronty, zpracování (dekódování + handler) běží v jediné doručovací goroutině,
// kterou spouští Start. Handler se proto nikdy nevolá souběžně sám se sebou.
type Client struct {
	cfg     config.MQTTConfig
	dec     Decoder
	handler Handler
	logger  *slog.Logger

	onReject  RejectHook
	onState   StateHook
	queueSize int

	client    mqtt.Client
	state     atomic.Int32
	connected atomic.Bool

	queue    chan []byte
	done     chan struct{}
	finished chan struct{}
	started  atomic.Bool

	stopOnce sync.Once
	stopErr  error
}

// New připraví klienta. Spojení vzniká až v Connect.
func New(cfg config.MQTTConfig, dec Decoder, handler Handler, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:       cfg,
		dec:       dec,
		handler:   handler,
		logger:    logger,
		queueSize: DefaultQueueSize,
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.queue = make(chan []byte, c.queueSize)

	o := mqtt.NewClientOptions()
	o.AddBroker(cfg.BrokerURL())
	o.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		o.SetUsername(cfg.Username)
		o.SetPassword(cfg.Password)
	}
	o.SetKeepAlive(time.Duration(cfg.KeepAlive) * time.Second)
	o.SetConnectTimeout(cfg.ConnectTimeout)
	o.SetCleanSession(true)
	// Reconnect řeší paho, my jen sledujeme stav.
	o.SetAutoReconnect(true)
	o.SetOnConnectHandler(c.onConnect)
	o.SetConnectionLostHandler(c.onConnectionLost)
	o.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		c.setState(StateConnecting)
		c.logger.Info("Znovu se připojuji k MQTT", "broker", cfg.BrokerURL())
	})
	// Zprávy, které přijdou dřív, než doběhne Subscribe (persistentní session).
	o.SetDefaultPublishHandler(c.enqueue)

	c.client = mqtt.NewClient(o)
	return c
}

// State vrací aktuální stav.
func (c *Client) State() State { return State(c.state.Load()) }

// IsConnected říká, zda je spojení s brokerem živé.
func (c *Client) IsConnected() bool { return c.connected.Load() }

// setState mění stav, ze Stopped už se nevrací.
func (c *Client) setState(s State) {
	for {
		cur := c.state.Load()
		if State(cur) == StateStopped {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (c *Client) setConnected(v bool) {
	if c.connected.Swap(v) == v {
		return
	}
	if c.onState != nil {
		c.onState(v)
	}
}

// Connect naváže spojení a počká na CONNACK (nejdéle ConnectTimeout).
// Na potvrzení odběru nečeká, subscribe běží v onConnect.
func (c *Client) Connect() error {
	if c.State() == StateStopped {
		return ErrStopped
	}
	c.setState(StateConnecting)
	c.logger.Info("Připojuji se k MQTT", "mqtt", c.cfg.String())

	token := c.client.Connect()
	if !token.WaitTimeout(c.connectTimeout()) {
		c.setState(StateDisconnected)
		return &ConnectionError{Broker: c.cfg.BrokerURL(), Err: fmt.Errorf("no CONNACK within %s", c.connectTimeout())}
	}
	if err := token.Error(); err != nil {
		c.setState(StateDisconnected)
		return &ConnectionError{Broker: c.cfg.BrokerURL(), Err: err}
	}
	return nil
}

func (c *Client) connectTimeout() time.Duration {
	if c.cfg.ConnectTimeout > 0 {
		return c.cfg.ConnectTimeout
	}
	return 10 * time.Second
}

// onConnect volá paho po každém úspěšném (i opakovaném) připojení.
// Paho ho spouští v samostatné goroutině, čekat na SUBACK tu je v pořádku.
func (c *Client) onConnect(client mqtt.Client) {
	c.setConnected(true)
	c.logger.Info("Připojeno k MQTT", "broker", c.cfg.BrokerURL())

	token := client.Subscribe(c.cfg.Topic, c.cfg.QoS, c.enqueue)
	if !token.WaitTimeout(c.connectTimeout()) {
		c.logger.Error("Subscribe nepotvrzen v časovém limitu", "topic", c.cfg.Topic)
		return
	}
	if err := token.Error(); err != nil {
		// Spojení nerušíme, jen logujeme.
		c.logger.Error("Subscribe selhal", "topic", c.cfg.Topic, "error", err)
		return
	}
	c.setState(StateSubscribed)
	c.logger.Info("Poslouchám na topicu", "topic", c.cfg.Topic, "qos", c.cfg.QoS)
}

// onConnectionLost: neočekávaný výpadek. Čisté odpojení řeší Stop.
func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.setConnected(false)
	c.setState(StateDisconnected)
	c.logger.Warn("Spojení s MQTT neočekávaně ztraceno", "error", err)
}

// enqueue je paho message callback. Payload kopírujeme, paho ho může znovu použít.
func (c *Client) enqueue(_ mqtt.Client, msg mqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	select {
	case <-c.done:
		c.logger.Debug("Zpráva po zastavení zahozena", "topic", msg.Topic())
	case c.queue <- payload:
	}
}

// Start spustí doručovací goroutinu. Neblokuje. Opakované volání nic nedělá.
func (c *Client) Start() error {
	if c.State() == StateStopped {
		return ErrStopped
	}
	if c.started.Swap(true) {
		return nil
	}
	go c.deliver()
	return nil
}

func (c *Client) deliver() {
	defer close(c.finished)
	for {
		select {
		case payload := <-c.queue:
			c.process(payload)
		case <-c.done:
			// Dozpracujeme, co už je ve frontě.
			for {
				select {
				case payload := <-c.queue:
					c.process(payload)
				default:
					return
				}
			}
		}
	}
}

// process zpracuje jednu zprávu. Žádná chyba ani panic odsud neuteče,
// jedna vadná zpráva nesmí zastavit odběr.
func (c *Client) process(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Neočekávaná chyba při zpracování zprávy", "panic", r)
		}
	}()

	rec, err := c.dec.Decode(payload)
	if err != nil {
		var decErr *decoder.DecodeError
		var valErr *record.ValidationError
		switch {
		case errors.As(err, &decErr):
			c.logger.Warn("Zpráva odmítnuta: nečitelný payload", "error", err, "size", len(payload))
		case errors.As(err, &valErr):
			c.logger.Warn("Zpráva odmítnuta: validace", "field", valErr.Field, "error", err)
		default:
			c.logger.Error("Zpráva odmítnuta: neočekávaná chyba dekodéru", "error", err)
		}
		if c.onReject != nil {
			c.onReject(payload, err)
		}
		return
	}

	c.handler(rec)
}

// Stop odpojí klienta a počká, až doručovací goroutina doběhne (nejdéle StopTimeout).
// Po Stop je klient ve stavu Stopped natrvalo. Opakované volání vrací výsledek prvního.
func (c *Client) Stop() error {
	c.stopOnce.Do(func() {
		c.state.Store(int32(StateStopped))

		// Nejdřív odpojit, aby nepřicházely nové zprávy. 250 ms na dokončení rozjetých přenosů.
		c.client.Disconnect(250)
		c.setConnected(false)
		close(c.done)
		c.logger.Info("Odpojeno od MQTT")

		if !c.started.Load() {
			return
		}
		timeout := c.cfg.StopTimeout
		if timeout <= 0 {
			timeout = defaultStopTimeout
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-c.finished:
		case <-timer.C:
			c.stopErr = ErrStopTimeout
			c.logger.Error("Doručovací goroutina nedoběhla včas", "timeout", timeout)
		}
	})
	return c.stopErr
}

// Publish pošle zprávu s QoS 0 bez čekání na potvrzení. Bez spojení nic nedělá.
func (c *Client) Publish(topic string, payload []byte) {
	if !c.connected.Load() {
		return
	}
	c.client.Publish(topic, 0, false, payload)
}
