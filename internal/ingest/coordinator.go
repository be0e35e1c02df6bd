// Package ingest propojuje MQTT odběr se zápisem do úložiště a řídí životní cyklus procesu.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"weather-station/internal/mqttsub"
	"weather-station/internal/record"
)

// Storage je část Storage Gateway, kterou coordinator potřebuje.
type Storage interface {
	Connect(ctx context.Context) error
	WriteOne(ctx context.Context, rec record.Record) error
	QueryCount(ctx context.Context) (int64, error)
	Close() error
}

// Subscriber je MQTT odběr (mqttsub.Client).
type Subscriber interface {
	Connect() error
	Start() error
	Stop() error
	IsConnected() bool
}

// LatestStore drží poslední zapsaný záznam (Valkey). Volitelné.
type LatestStore interface {
	Store(ctx context.Context, rec record.Record) error
	Close() error
}

// SubscriberFactory vytvoří odběr, který bude volat předané callbacky.
// Coordinator ho vytváří až v Setup, po připojení úložiště.
type SubscriberFactory func(handler mqttsub.Handler, onReject mqttsub.RejectHook, onState mqttsub.StateHook) Subscriber

// State je stav coordinatoru.
type State int32

const (
	StateCreated State = iota
	StateReady
	StateRunning
	StateStopped
)

var ErrAlreadySetUp = errors.New("ingest: setup already done")

// Options pro New. Nulové hodnoty dostanou rozumné defaulty.
type Options struct {
	Storage       Storage
	NewSubscriber SubscriberFactory
	Cache         LatestStore
	Metrics       *Metrics
	Logger        *slog.Logger

	WriteTimeout time.Duration
	PollInterval time.Duration
	StatsEvery   int
}

// Coordinator vlastní statistiky a pořadí startu a vypínání:
// úložiště se připojuje první a zavírá poslední.
type Coordinator struct {
	newSub  SubscriberFactory
	cache   LatestStore
	metrics *Metrics
	logger  *slog.Logger
	stats   *Statistics
	now     func() time.Time

	writeTimeout time.Duration
	pollInterval time.Duration
	statsEvery   uint64

	state atomic.Int32

	// storeMu chrání store. Zápis drží RLock, Close čeká na Lock,
	// takže se nikdy nezapisuje do zavřeného spojení.
	storeMu sync.RWMutex
	store   Storage
	pending Storage

	sub Subscriber

	shutdownRequested atomic.Bool
	shutdownOnce      sync.Once
}

func New(opts Options) *Coordinator {
	c := &Coordinator{
		newSub:       opts.NewSubscriber,
		cache:        opts.Cache,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		now:          time.Now,
		writeTimeout: opts.WriteTimeout,
		pollInterval: opts.PollInterval,
		statsEvery:   10,
		pending:      opts.Storage,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = 5 * time.Second
	}
	if c.pollInterval <= 0 {
		c.pollInterval = time.Second
	}
	if opts.StatsEvery > 0 {
		c.statsEvery = uint64(opts.StatsEvery)
	}
	c.stats = NewStatistics(c.now())
	return c
}

// State vrací aktuální stav.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// Stats vrací aktuální statistiky.
func (c *Coordinator) Stats() Snapshot { return c.stats.Snapshot(c.now()) }

// Healthy je true, když je odběr připojený k brokeru.
func (c *Coordinator) Healthy() bool {
	return c.sub != nil && c.sub.IsConnected() && c.State() != StateStopped
}

// Setup připojí úložiště, pak MQTT a spustí doručování.
// Jakákoliv chyba připojení je fatální.
func (c *Coordinator) Setup(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateReady)) {
		return ErrAlreadySetUp
	}
	if c.pending == nil || c.newSub == nil {
		return errors.New("ingest: storage and subscriber factory are required")
	}

	// 1. Úložiště. Výpadek DB musíme odhalit dřív, než přijde první zpráva.
	if err := c.pending.Connect(ctx); err != nil {
		return fmt.Errorf("connect storage: %w", err)
	}
	c.storeMu.Lock()
	c.store = c.pending
	c.storeMu.Unlock()

	// Počet záznamů je jen informativní.
	countCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	count, err := c.pending.QueryCount(countCtx)
	cancel()
	if err != nil {
		c.logger.Warn("Nelze zjistit počet záznamů v úložišti", "error", err)
	} else {
		c.logger.Info("Úložiště připraveno", "records", count)
	}

	// 2. MQTT.
	sub := c.newSub(c.handle, c.reject, c.onState)
	if err := sub.Connect(); err != nil {
		c.closeStorage()
		return fmt.Errorf("connect mqtt: %w", err)
	}
	c.sub = sub

	// 3. Doručování běží na pozadí.
	if err := sub.Start(); err != nil {
		c.closeStorage()
		return fmt.Errorf("start subscription: %w", err)
	}

	c.logger.Info("Ingestor připraven")
	return nil
}

// Run blokuje, dokud někdo nezavolá RequestShutdown nebo není zrušen ctx.
// Zrušení ctx (signál) je totéž jako RequestShutdown.
func (c *Coordinator) Run(ctx context.Context) {
	c.state.CompareAndSwap(int32(StateReady), int32(StateRunning))
	c.logger.Info("Ingestor běží, čekám na zprávy")

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for !c.shutdownRequested.Load() {
		select {
		case <-ctx.Done():
			c.logger.Info("Přerušeno, ukončuji", "reason", context.Cause(ctx))
			c.RequestShutdown()
		case <-ticker.C:
		}
	}
}

// RequestShutdown jen nastaví příznak, rozjetý zápis nepřerušuje.
func (c *Coordinator) RequestShutdown() {
	c.shutdownRequested.Store(true)
}

// Shutdown zastaví odběr a pak zavře úložiště. Chyby jen loguje.
// Opakované volání nic nedělá.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.RequestShutdown()
		c.logger.Info("Ukončuji ingestor...")

		// Nejdřív zastavit příjem, až potom zavřít úložiště.
		if c.sub != nil {
			if err := c.sub.Stop(); err != nil {
				c.logger.Error("Chyba při zastavení MQTT odběru", "error", err)
			}
		}
		c.closeStorage()

		if c.cache != nil {
			if err := c.cache.Close(); err != nil {
				c.logger.Warn("Chyba při zavírání Valkey", "error", err)
			}
		}
		c.metrics.Connected.Set(0)
		c.state.Store(int32(StateStopped))

		logReport(c.logger, "Finální statistiky", c.Stats())
	})
}

func (c *Coordinator) closeStorage() {
	c.storeMu.Lock()
	store := c.store
	c.store = nil
	c.storeMu.Unlock()

	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		c.logger.Error("Chyba při zavírání úložiště", "error", err)
	}
}

// handle se volá pro každý dekódovaný záznam, vždy z jediné doručovací goroutiny.
func (c *Coordinator) handle(rec record.Record) {
	c.stats.received.Add(1)
	c.metrics.Received.Inc()
	defer c.maybeReport()

	c.storeMu.RLock()
	defer c.storeMu.RUnlock()

	if c.store == nil {
		c.stats.failed.Add(1)
		c.metrics.Failed.Inc()
		c.logger.Error("Úložiště není k dispozici, záznam zahozen", "record", rec.String())
		return
	}

	// Zápis má vlastní timeout, aby zaseknutá DB nezablokovala doručování.
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()

	start := time.Now()
	err := c.store.WriteOne(ctx, rec)
	c.metrics.WriteDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.stats.failed.Add(1)
		c.metrics.Failed.Inc()
		c.logger.Error("Chyba při ukládání dat", "record", rec.String(), "error", err)
		return
	}

	c.stats.written.Add(1)
	c.metrics.Written.Inc()
	c.logger.Info("Uloženo", "record", rec.String())

	if c.cache != nil {
		if err := c.cache.Store(ctx, rec); err != nil {
			c.logger.Warn("Nelze aktualizovat poslední hodnotu ve Valkey", "error", err)
		}
	}
}

// reject počítá zprávy, které dekodér zahodil.
func (c *Coordinator) reject(_ []byte, _ error) {
	c.stats.received.Add(1)
	c.stats.rejected.Add(1)
	c.metrics.Received.Inc()
	c.metrics.Rejected.Inc()
	c.maybeReport()
}

func (c *Coordinator) onState(connected bool) {
	if connected {
		c.metrics.Connected.Set(1)
		return
	}
	c.metrics.Connected.Set(0)
}

func (c *Coordinator) maybeReport() {
	if n := c.stats.received.Load(); n > 0 && n%c.statsEvery == 0 {
		logReport(c.logger, "Statistiky", c.Stats())
	}
}
