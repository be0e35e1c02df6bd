package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"weather-station/internal/record"
)

// LatestTTL: poslední hodnota expiruje, aby mrtvá stanice nevypadala jako živá.
const LatestTTL = 24 * time.Hour

// LatestCache je "hot storage" pro dashboard: v Valkey držíme jen poslední záznam.
// TimescaleDB zůstává zdrojem pravdy (source of truth), cache je jen zkratka.
type LatestCache struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewLatestCache se připojí k Valkey (Redis) a ověří spojení.
func NewLatestCache(ctx context.Context, addr, measurement string) (*LatestCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("valkey %s není dostupný: %w", addr, err)
	}
	return &LatestCache{
		rdb: rdb,
		key: "weather:latest:" + measurement,
		ttl: LatestTTL,
	}, nil
}

// Store přepíše poslední hodnotu.
func (c *LatestCache) Store(ctx context.Context, rec record.Record) error {
	row := toPoint(rec).row()
	row[ColTime] = rec.Timestamp().Format(time.RFC3339Nano)

	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal latest: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("update valkey: %w", err)
	}
	return nil
}

// Latest vrací poslední uloženou hodnotu ve stejném tvaru jako Gateway.QueryLatest.
// Prázdná nebo expirovaná cache: (nil, false, nil).
func (c *LatestCache) Latest(ctx context.Context) (Row, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read valkey: %w", err)
	}

	var decoded map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, false, fmt.Errorf("decode latest: %w", err)
	}

	row := make(Row, len(decoded))
	for col, v := range decoded {
		switch x := v.(type) {
		case string:
			if col != ColTime {
				row[col] = x
				continue
			}
			ts, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return nil, false, fmt.Errorf("decode latest time: %w", err)
			}
			row[col] = ts
		case json.Number:
			if intColumns[col] {
				n, err := x.Int64()
				if err != nil {
					return nil, false, fmt.Errorf("decode latest %s: %w", col, err)
				}
				row[col] = n
				continue
			}
			f, err := x.Float64()
			if err != nil {
				return nil, false, fmt.Errorf("decode latest %s: %w", col, err)
			}
			row[col] = f
		default:
			row[col] = v
		}
	}
	return row, true, nil
}

func (c *LatestCache) Close() error {
	return c.rdb.Close()
}
