package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/pkg/model"
)

const (
	listingIndexKey = "market:listings"
	proceedsHashKey = "market:proceeds"
)

// Store defines the contract for persisting and caching marketplace state.
type Store interface {
	SaveListing(ctx context.Context, key model.ListingKey, l model.Listing) error
	DeleteListing(ctx context.Context, key model.ListingKey) error
	GetListing(ctx context.Context, key model.ListingKey) (*model.Listing, error)
	LoadListings(ctx context.Context) ([]model.ListingEntry, error)
	SaveBalance(ctx context.Context, owner model.Address, balance decimal.Decimal) error
	LoadBalances(ctx context.Context) ([]model.ProceedsEntry, error)
	RecordEvent(ctx context.Context, evt model.MarketEvent) error
	SaveSnapshot(ctx context.Context, listings []model.ListingEntry, balances []model.ProceedsEntry) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// HybridStore keeps a Redis copy of the ledger for fast reads and, when
// configured, Postgres as the durable source of truth.
type HybridStore struct {
	redis  *redis.Client
	PG     *pgxpool.Pool
	logger *zap.Logger
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid creates a Redis-first, Postgres-backed store.
func NewHybrid(redisAddr string, redisDB int, redisPass string, pgURL string, pgPoolConfig PGPoolConfig, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		DB:       redisDB,
		Password: redisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &HybridStore{redis: rdb, PG: pgPool, logger: logger}, nil
}

// Schema is the Postgres layout used by the store and the sales history.
const Schema = `
CREATE SCHEMA IF NOT EXISTS market;

CREATE TABLE IF NOT EXISTS market.listing (
	collection TEXT NOT NULL,
	asset_id   TEXT NOT NULL,
	seller     TEXT NOT NULL,
	price      NUMERIC(78, 0) NOT NULL CHECK (price > 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, asset_id)
);

CREATE TABLE IF NOT EXISTS market.proceeds (
	owner      TEXT PRIMARY KEY,
	balance    NUMERIC(78, 0) NOT NULL CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS market.event (
	id          BIGSERIAL PRIMARY KEY,
	event_type  TEXT NOT NULL,
	collection  TEXT,
	asset_id    TEXT,
	seller      TEXT,
	buyer       TEXT,
	owner       TEXT,
	price       NUMERIC(78, 0) NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS market.t_sale (
	s_id_sale   TEXT PRIMARY KEY,
	collection  TEXT NOT NULL,
	asset_id    TEXT NOT NULL,
	seller      TEXT NOT NULL,
	buyer       TEXT NOT NULL,
	dec_price   NUMERIC(78, 0) NOT NULL,
	dec_paid    NUMERIC(78, 0) NOT NULL,
	dt_sold     TIMESTAMPTZ NOT NULL,
	s_source    TEXT NOT NULL
);
`

// EnsureSchema creates the market tables if they do not exist.
func (s *HybridStore) EnsureSchema(ctx context.Context) error {
	if s.PG == nil {
		return nil
	}
	if _, err := s.PG.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func listingCacheKey(key model.ListingKey) string {
	return fmt.Sprintf("listing:%s:%s", key.Collection, key.AssetID)
}

func indexMember(key model.ListingKey) string {
	return fmt.Sprintf("%s|%s", key.Collection, key.AssetID)
}

func parseIndexMember(member string) (model.ListingKey, bool) {
	collection, assetID, ok := strings.Cut(member, "|")
	if !ok {
		return model.ListingKey{}, false
	}
	return model.ListingKey{Collection: model.Address(collection), AssetID: assetID}, true
}

// SaveListing writes the listing to Postgres (if configured) and the Redis cache.
func (s *HybridStore) SaveListing(ctx context.Context, key model.ListingKey, l model.Listing) error {
	if s.PG != nil {
		_, err := s.PG.Exec(ctx, `
			INSERT INTO market.listing (collection, asset_id, seller, price, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (collection, asset_id)
			DO UPDATE SET
				seller = EXCLUDED.seller,
				price = EXCLUDED.price,
				updated_at = EXCLUDED.updated_at;
		`, string(key.Collection), key.AssetID, string(l.Seller), l.Price)
		if err != nil {
			s.logger.Error("store.pg.upsert_listing_failed", zap.String("key", key.String()), zap.Error(err))
			return err
		}
	}

	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, listingCacheKey(key), data, 0)
	pipe.SAdd(ctx, listingIndexKey, indexMember(key))
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("store.redis.set_listing_failed", zap.String("key", key.String()), zap.Error(err))
		return err
	}
	return nil
}

// DeleteListing removes the listing from Postgres (if configured) and the Redis cache.
func (s *HybridStore) DeleteListing(ctx context.Context, key model.ListingKey) error {
	if s.PG != nil {
		_, err := s.PG.Exec(ctx, `
			DELETE FROM market.listing WHERE collection = $1 AND asset_id = $2;
		`, string(key.Collection), key.AssetID)
		if err != nil {
			s.logger.Error("store.pg.delete_listing_failed", zap.String("key", key.String()), zap.Error(err))
			return err
		}
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, listingCacheKey(key))
	pipe.SRem(ctx, listingIndexKey, indexMember(key))
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("store.redis.delete_listing_failed", zap.String("key", key.String()), zap.Error(err))
		return err
	}
	return nil
}

// GetListing reads a listing from the Redis cache. A miss returns nil, nil.
func (s *HybridStore) GetListing(ctx context.Context, key model.ListingKey) (*model.Listing, error) {
	data, err := s.redis.Get(ctx, listingCacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var l model.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// LoadListings returns every persisted listing, from Postgres when available
// and otherwise from the Redis index.
func (s *HybridStore) LoadListings(ctx context.Context) ([]model.ListingEntry, error) {
	if s.PG != nil {
		rows, err := s.PG.Query(ctx, `
			SELECT collection, asset_id, seller, price
			FROM market.listing
			ORDER BY collection, asset_id;
		`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var results []model.ListingEntry
		for rows.Next() {
			var (
				e                           model.ListingEntry
				collection, assetID, seller string
			)
			if err := rows.Scan(&collection, &assetID, &seller, &e.Listing.Price); err != nil {
				return nil, err
			}
			e.Key = model.ListingKey{Collection: model.Address(collection), AssetID: assetID}
			e.Listing.Seller = model.Address(seller)
			results = append(results, e)
		}
		return results, rows.Err()
	}

	members, err := s.redis.SMembers(ctx, listingIndexKey).Result()
	if err != nil {
		return nil, err
	}
	results := make([]model.ListingEntry, 0, len(members))
	for _, m := range members {
		key, ok := parseIndexMember(m)
		if !ok {
			s.logger.Warn("store.redis.bad_index_member", zap.String("member", m))
			continue
		}
		l, err := s.GetListing(ctx, key)
		if err != nil {
			return nil, err
		}
		if l == nil {
			continue
		}
		results = append(results, model.ListingEntry{Key: key, Listing: *l})
	}
	return results, nil
}

// SaveBalance records the current proceeds balance of owner.
func (s *HybridStore) SaveBalance(ctx context.Context, owner model.Address, balance decimal.Decimal) error {
	if s.PG != nil {
		_, err := s.PG.Exec(ctx, `
			INSERT INTO market.proceeds (owner, balance, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (owner)
			DO UPDATE SET
				balance = EXCLUDED.balance,
				updated_at = EXCLUDED.updated_at;
		`, string(owner), balance)
		if err != nil {
			s.logger.Error("store.pg.upsert_proceeds_failed", zap.String("owner", owner.String()), zap.Error(err))
			return err
		}
	}

	if err := s.redis.HSet(ctx, proceedsHashKey, string(owner), balance.String()).Err(); err != nil {
		s.logger.Error("store.redis.set_proceeds_failed", zap.String("owner", owner.String()), zap.Error(err))
		return err
	}
	return nil
}

// LoadBalances returns every persisted proceeds account.
func (s *HybridStore) LoadBalances(ctx context.Context) ([]model.ProceedsEntry, error) {
	if s.PG != nil {
		rows, err := s.PG.Query(ctx, `
			SELECT owner, balance FROM market.proceeds ORDER BY owner;
		`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var results []model.ProceedsEntry
		for rows.Next() {
			var (
				e     model.ProceedsEntry
				owner string
			)
			if err := rows.Scan(&owner, &e.Balance); err != nil {
				return nil, err
			}
			e.Owner = model.Address(owner)
			results = append(results, e)
		}
		return results, rows.Err()
	}

	all, err := s.redis.HGetAll(ctx, proceedsHashKey).Result()
	if err != nil {
		return nil, err
	}
	results := make([]model.ProceedsEntry, 0, len(all))
	for owner, raw := range all {
		bal, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid cached balance for %s: %w", owner, err)
		}
		results = append(results, model.ProceedsEntry{Owner: model.Address(owner), Balance: bal})
	}
	return results, nil
}

// RecordEvent inserts an immutable event into market.event.
func (s *HybridStore) RecordEvent(ctx context.Context, evt model.MarketEvent) error {
	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO market.event (
			event_type, collection, asset_id, seller, buyer, owner, price, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, string(evt.Type), string(evt.Collection), evt.AssetID,
		string(evt.Seller), string(evt.Buyer), string(evt.Owner), evt.Price, evt.OccurredAt)
	if err != nil {
		s.logger.Error("store.pg.insert_event_failed", zap.String("type", string(evt.Type)), zap.Error(err))
	}
	return err
}

// SaveSnapshot replaces the persisted ledger with the given state in one
// Postgres transaction, then rebuilds the Redis copy.
func (s *HybridStore) SaveSnapshot(ctx context.Context, listings []model.ListingEntry, balances []model.ProceedsEntry) error {
	if s.PG != nil {
		err := pgx.BeginFunc(ctx, s.PG, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `DELETE FROM market.listing;`); err != nil {
				return err
			}
			batch := &pgx.Batch{}
			for _, e := range listings {
				batch.Queue(`
					INSERT INTO market.listing (collection, asset_id, seller, price, updated_at)
					VALUES ($1, $2, $3, $4, NOW());
				`, string(e.Key.Collection), e.Key.AssetID, string(e.Listing.Seller), e.Listing.Price)
			}
			for _, b := range balances {
				batch.Queue(`
					INSERT INTO market.proceeds (owner, balance, updated_at)
					VALUES ($1, $2, NOW())
					ON CONFLICT (owner)
					DO UPDATE SET balance = EXCLUDED.balance, updated_at = EXCLUDED.updated_at;
				`, string(b.Owner), b.Balance)
			}
			return tx.SendBatch(ctx, batch).Close()
		})
		if err != nil {
			s.logger.Error("store.pg.snapshot_failed", zap.Error(err))
			return err
		}
	}

	members, err := s.redis.SMembers(ctx, listingIndexKey).Result()
	if err != nil {
		return err
	}
	pipe := s.redis.TxPipeline()
	for _, m := range members {
		if key, ok := parseIndexMember(m); ok {
			pipe.Del(ctx, listingCacheKey(key))
		}
	}
	pipe.Del(ctx, listingIndexKey, proceedsHashKey)
	for _, e := range listings {
		data, err := json.Marshal(e.Listing)
		if err != nil {
			return err
		}
		pipe.Set(ctx, listingCacheKey(e.Key), data, 0)
		pipe.SAdd(ctx, listingIndexKey, indexMember(e.Key))
	}
	for _, b := range balances {
		pipe.HSet(ctx, proceedsHashKey, string(b.Owner), b.Balance.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("store.redis.snapshot_failed", zap.Error(err))
		return err
	}
	return nil
}

func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
