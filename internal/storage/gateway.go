package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"weather-station/internal/config"
	"weather-station/internal/record"
)

// DefaultRecentLimit se použije, když QueryRecent dostane limit <= 0.
const DefaultRecentLimit = 100

// ErrNotConnected: operace zavolaná před Connect (nebo po Close).
var ErrNotConnected = errors.New("storage: not connected, call Connect first")

// ConnectionError obaluje selhání při navazování spojení s databází.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "timescaledb connection failed: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// Gateway zapouzdřuje práci s TimescaleDB.
// Zbytek aplikace neví, jak se píše SQL, jen volá metody gatewaye.
// Gateway sám nic neopakuje (retry) ani nepočítá chyby, to je práce volajícího.
type Gateway struct {
	cfg    config.StoreConfig
	logger *slog.Logger
	table  string // plně kvalifikovaný a quotovaný název, např. "public"."weather_data"

	mu   sync.RWMutex
	pool *pgxpool.Pool // nil v testech se sqlmock
	db   *sql.DB
}

// NewGateway jen připraví strukturu, spojení vzniká až v Connect.
func NewGateway(cfg config.StoreConfig, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg:    cfg,
		logger: logger,
		table:  pgx.Identifier{cfg.Org, cfg.Measurement}.Sanitize(),
	}
}

// Connect vytvoří pool, ověří spojení (Ping) a připraví tabulku.
func (g *Gateway) Connect(ctx context.Context) error {
	poolCfg, err := pgxpool.ParseConfig(g.cfg.URL())
	if err != nil {
		return &ConnectionError{Err: fmt.Errorf("parse config: %w", err)}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return &ConnectionError{Err: fmt.Errorf("create pool: %w", err)}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return &ConnectionError{Err: fmt.Errorf("ping: %w", err)}
	}

	// Nad poolem otevřeme database/sql handle. Všechny dotazy jdou přes něj,
	// pool zůstává vlastníkem spojení.
	db := stdlib.OpenDBFromPool(pool)
	if err := g.ensureSchema(ctx, db); err != nil {
		db.Close()
		pool.Close()
		return &ConnectionError{Err: err}
	}

	g.mu.Lock()
	g.pool, g.db = pool, db
	g.mu.Unlock()

	g.logger.Info("Připojeno k TimescaleDB", "store", g.cfg.String())
	return nil
}

// ensureSchema vytvoří schéma a tabulku, pokud chybí, a zkusí z ní udělat hypertable.
// Chybějící rozšíření timescaledb není fatální, tabulka funguje i jako obyčejná.
func (g *Gateway) ensureSchema(ctx context.Context, db *sql.DB) error {
	schema := pgx.Identifier{g.cfg.Org}.Sanitize()
	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	time                TIMESTAMPTZ      NOT NULL,
	temperature_c       DOUBLE PRECISION NOT NULL,
	humidity_pct        DOUBLE PRECISION NOT NULL,
	air_quality_co2_ppm DOUBLE PRECISION NOT NULL,
	flammable_gas_ppm   DOUBLE PRECISION NOT NULL,
	toxic_gas_ppm       DOUBLE PRECISION NOT NULL,
	uv_index            DOUBLE PRECISION NOT NULL,
	battery_voltage     DOUBLE PRECISION NOT NULL,
	gps_latitude        DOUBLE PRECISION,
	gps_longitude       DOUBLE PRECISION,
	gps_altitude_m      DOUBLE PRECISION,
	gps_satellites      INTEGER,
	gps_fix_quality     INTEGER
)`, g.table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	regclass := g.cfg.Org + "." + g.cfg.Measurement
	if _, err := db.ExecContext(ctx, "SELECT create_hypertable($1::regclass, 'time', if_not_exists => TRUE)", regclass); err != nil {
		g.logger.Warn("Nelze vytvořit hypertable, pokračuji s obyčejnou tabulkou", "table", regclass, "error", err)
	}
	return nil
}

// Close uvolní spojení. Volání bez Connect nebo opakované volání je v pořádku.
func (g *Gateway) Close() error {
	g.mu.Lock()
	pool, db := g.pool, g.db
	g.pool, g.db = nil, nil
	g.mu.Unlock()

	if db == nil {
		return nil
	}
	err := db.Close()
	if pool != nil {
		pool.Close()
	}
	g.logger.Info("Spojení s TimescaleDB uzavřeno")
	return err
}

// IsConnected říká, zda má gateway otevřené spojení.
func (g *Gateway) IsConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.db != nil
}

func (g *Gateway) conn() (*sql.DB, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.db == nil {
		return nil, ErrNotConnected
	}
	return g.db, nil
}

// attach podstrčí hotový handle (testy se sqlmock).
func (g *Gateway) attach(db *sql.DB) {
	g.mu.Lock()
	g.db = db
	g.mu.Unlock()
}

// WriteOne synchronně zapíše jeden záznam.
func (g *Gateway) WriteOne(ctx context.Context, rec record.Record) error {
	db, err := g.conn()
	if err != nil {
		return err
	}

	query, args := g.insertStatement(toPoint(rec))
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", g.table, err)
	}
	g.logger.Debug("Záznam uložen", "record", rec.String())
	return nil
}

// WriteBatch zapíše více záznamů v jedné transakci (všechno, nebo nic).
// Prázdný vstup je no-op, ne chyba.
func (g *Gateway) WriteBatch(ctx context.Context, recs []record.Record) error {
	db, err := g.conn()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		g.logger.Warn("WriteBatch zavolán s prázdným seznamem")
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	for i, rec := range recs {
		query, args := g.insertStatement(toPoint(rec))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert batch item %d into %s: %w", i, g.table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	g.logger.Info("Dávka uložena", "count", len(recs))
	return nil
}

// insertStatement sestaví INSERT jen se sloupci, které point má.
func (g *Gateway) insertStatement(p point) (string, []any) {
	cols := make([]string, 0, len(p.columns)+1)
	cols = append(cols, ColTime)
	cols = append(cols, p.columns...)

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}

	args := make([]any, 0, len(cols))
	args = append(args, p.time)
	args = append(args, p.values...)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		g.table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return query, args
}

// QueryRecent vrací až limit nejnovějších řádků, od nejnovějšího.
func (g *Gateway) QueryRecent(ctx context.Context, limit int) ([]Row, error) {
	db, err := g.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY time DESC LIMIT $1", strings.Join(allColumns, ", "), g.table)
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	g.logger.Debug("Načteny poslední záznamy", "count", len(out))
	return out, nil
}

// QueryRange vrací řádky s časem v intervalu [start, end], od nejstaršího.
// Nulový end znamená "teď".
func (g *Gateway) QueryRange(ctx context.Context, start, end time.Time) ([]Row, error) {
	db, err := g.conn()
	if err != nil {
		return nil, err
	}
	if end.IsZero() {
		end = time.Now()
	}
	if end.Before(start) {
		return nil, fmt.Errorf("query range: end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE time >= $1 AND time <= $2 ORDER BY time ASC",
		strings.Join(allColumns, ", "), g.table)
	rows, err := db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	return out, nil
}

// QueryLatest vrací nejnovější řádek. Prázdná tabulka: (nil, false, nil).
func (g *Gateway) QueryLatest(ctx context.Context) (Row, bool, error) {
	rows, err := g.QueryRecent(ctx, 1)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// QueryCount vrací počet řádků v tabulce.
func (g *Gateway) QueryCount(ctx context.Context) (int64, error) {
	db, err := g.conn()
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+g.table).Scan(&count); err != nil {
		return 0, fmt.Errorf("query count: %w", err)
	}
	return count, nil
}

// scanRows převede sql.Rows na []Row. NULL hodnoty vynechá.
func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]Row, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(Row, len(cols))
		for i, c := range cols {
			if vals[i] == nil {
				continue
			}
			row[c] = normalize(c, vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalize sjednotí typy z driveru: celá čísla jako int64, ostatní hodnoty jako float64.
func normalize(col string, v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int32:
		return int64(x)
	case int64:
		if !intColumns[col] {
			return float64(x)
		}
		return x
	case float32:
		return float64(x)
	case float64:
		if intColumns[col] {
			return int64(x)
		}
		return x
	default:
		return v
	}
}
