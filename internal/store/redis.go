package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/iliamunaev/card-settlement/internal/apperr"
	"github.com/iliamunaev/card-settlement/internal/model"
)

// RedisConfig holds connection settings for the Redis store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// Redis stores payments as JSON documents.
//
// Layout under the configured prefix:
//
//	seq              INCR counter for record IDs
//	txn:<id>         transaction ID -> record ID (SETNX)
//	record:<id>      JSON-encoded model.Payment
//	created          sorted set of record IDs scored by CreatedAt millis
type Redis struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*Redis)(nil)

// maxUpdateAttempts bounds optimistic-lock retries when a watched record
// changes between read and write.
const maxUpdateAttempts = 3

// OpenRedis connects to Redis and verifies the connection with PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	opts := &redis.Options{
		Addr: cfg.Address,
		DB:   cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store %s: ping failed: %w", cfg.Address, err)
	}
	return NewRedis(client, cfg.Prefix), nil
}

// NewRedis wraps an existing client. The store owns the client and closes it.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(parts ...string) string {
	k := r.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (r *Redis) recordKey(id int64) string { return r.key("record", strconv.FormatInt(id, 10)) }
func (r *Redis) txnKey(txid string) string { return r.key("txn", txid) }

func (r *Redis) Create(ctx context.Context, p model.Payment) (model.Payment, error) {
	id, err := r.client.Incr(ctx, r.key("seq")).Result()
	if err != nil {
		return model.Payment{}, storageErr(ctx, "create", err)
	}
	p.ID = id

	claimed, err := r.client.SetNX(ctx, r.txnKey(p.TransactionID), id, 0).Result()
	if err != nil {
		return model.Payment{}, storageErr(ctx, "create", err)
	}
	if !claimed {
		return model.Payment{}, fmt.Errorf("create %s: %w", p.TransactionID, apperr.ErrDuplicateTransaction)
	}

	doc, err := json.Marshal(p)
	if err != nil {
		return model.Payment{}, fmt.Errorf("encode payment %d: %w", id, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.recordKey(id), doc, 0)
		pipe.ZAdd(ctx, r.key("created"), redis.Z{Score: float64(p.CreatedAt.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		// Release the transaction ID so the attempt leaves nothing behind.
		_ = r.client.Del(context.WithoutCancel(ctx), r.txnKey(p.TransactionID)).Err()
		return model.Payment{}, storageErr(ctx, "create", err)
	}
	return p, nil
}

func (r *Redis) Update(ctx context.Context, p model.Payment, from model.Status) error {
	key := r.recordKey(p.ID)
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payment %d: %w", p.ID, err)
	}

	txf := func(tx *redis.Tx) error {
		cur, err := decode(tx.Get(ctx, key))
		if err != nil {
			return err
		}
		if cur.Status != from {
			return fmt.Errorf("update %d: stored %s, expected %s: %w", p.ID, cur.Status, from, apperr.ErrConflict)
		}
		if cur.TransactionID != p.TransactionID {
			return fmt.Errorf("update %d: transaction id is immutable: %w", p.ID, apperr.ErrConflict)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err = r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return fmt.Errorf("update %d: %w", p.ID, apperr.ErrNotFound)
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("update %d: %w", p.ID, apperr.ErrConflict)
	case apperr.Kind(err) == apperr.KindConflict:
		return err
	default:
		return storageErr(ctx, "update", err)
	}
}

func (r *Redis) Get(ctx context.Context, id int64) (model.Payment, error) {
	p, err := decode(r.client.Get(ctx, r.recordKey(id)))
	if errors.Is(err, redis.Nil) {
		return model.Payment{}, fmt.Errorf("payment %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return model.Payment{}, storageErr(ctx, "get", err)
	}
	return p, nil
}

func (r *Redis) FindByTransactionID(ctx context.Context, transactionID string) (model.Payment, error) {
	id, err := r.client.Get(ctx, r.txnKey(transactionID)).Int64()
	if errors.Is(err, redis.Nil) {
		return model.Payment{}, fmt.Errorf("transaction %s: %w", transactionID, apperr.ErrNotFound)
	}
	if err != nil {
		return model.Payment{}, storageErr(ctx, "find", err)
	}
	p, err := r.Get(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return model.Payment{}, fmt.Errorf("transaction %s: %w", transactionID, apperr.ErrNotFound)
	}
	return p, err
}

// List narrows candidates by creation time in Redis and applies the rest of
// the filter in process.
func (r *Redis) List(ctx context.Context, f Filter) ([]model.Payment, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !f.From.IsZero() {
		rng.Min = strconv.FormatInt(f.From.UnixMilli(), 10)
	}
	if !f.To.IsZero() {
		rng.Max = strconv.FormatInt(f.To.UnixMilli(), 10)
	}
	ids, err := r.client.ZRangeByScore(ctx, r.key("created"), rng).Result()
	if err != nil {
		return nil, storageErr(ctx, "list", err)
	}
	if len(ids) == 0 {
		return []model.Payment{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key("record", id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storageErr(ctx, "list", err)
	}

	all := make([]model.Payment, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var p model.Payment
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			return nil, fmt.Errorf("decode payment %s: %w", ids[i], err)
		}
		all = append(all, p)
	}
	return f.apply(all), nil
}

// Ping reports whether Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func decode(cmd *redis.StringCmd) (model.Payment, error) {
	raw, err := cmd.Bytes()
	if err != nil {
		return model.Payment{}, err
	}
	var p model.Payment
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Payment{}, fmt.Errorf("decode payment: %w", err)
	}
	return p, nil
}

// storageErr classifies a backend failure as a persistence error unless the
// caller's context ended.
func storageErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrPersistence, err)
}
