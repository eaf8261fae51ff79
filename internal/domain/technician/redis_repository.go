package technician

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic WATCH retries on concurrent writers
const maxTxRetries = 5

// RedisRepository implements Repository using RedisJSON documents
// ("<prefix>:technician:<id>") and a sorted-set index ("<prefix>:technicians")
// scored by ID.
type RedisRepository struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

var _ Repository = (*RedisRepository)(nil)

// NewRedisRepository creates a new Redis JSON-based technician repository
func NewRedisRepository(client *redis.Client, keyPrefix string) *RedisRepository {
	return &RedisRepository{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

func (r *RedisRepository) key(id ID) string {
	if r.keyPrefix == "" {
		return "technician:" + id.String()
	}
	return r.keyPrefix + ":technician:" + id.String()
}

func (r *RedisRepository) indexKey() string {
	if r.keyPrefix == "" {
		return "technicians"
	}
	return r.keyPrefix + ":technicians"
}

// UpdateLocation implements Repository
func (r *RedisRepository) UpdateLocation(ctx context.Context, id ID, latitude, longitude float64) (*Technician, error) {
	var updated *Technician

	err := r.findOneAndUpsert(ctx, id, func(current *Technician) (*Technician, error) {
		if current == nil {
			current = &Technician{ID: id}
		}
		current.MoveTo(latitude, longitude, r.now())
		updated = current
		return current, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update technician location: %w", err)
	}

	return updated.Clone(), nil
}

// Save implements Repository
func (r *RedisRepository) Save(ctx context.Context, t *Technician) error {
	if t == nil || !t.ID.Valid() {
		return fmt.Errorf("cannot save technician without a valid id")
	}

	err := r.findOneAndUpsert(ctx, t.ID, func(current *Technician) (*Technician, error) {
		return mergeProfile(current, t), nil
	})
	if err != nil {
		return fmt.Errorf("failed to save technician: %w", err)
	}
	return nil
}

// GetByID implements Repository
func (r *RedisRepository) GetByID(ctx context.Context, id ID) (*Technician, error) {
	jsonData, err := r.client.JSONGet(ctx, r.key(id), "$").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get technician from Redis: %w", err)
	}

	return decodeDocument(jsonData)
}

// ListAll implements Repository
func (r *RedisRepository) ListAll(ctx context.Context) ([]*Technician, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read technician index: %w", err)
	}
	if len(ids) == 0 {
		return []*Technician{}, nil
	}

	cmds := make([]*redis.JSONCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, raw := range ids {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt technician index member %q: %w", raw, err)
			}
			cmds[i] = pipe.JSONGet(ctx, r.key(ID(n)), "$")
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load technicians: %w", err)
	}

	technicians := make([]*Technician, 0, len(ids))
	for _, cmd := range cmds {
		jsonData, err := cmd.Result()
		if err != nil {
			continue // Index entry without document
		}

		t, err := decodeDocument(jsonData)
		if err != nil || t == nil {
			continue // Skip malformed entries
		}
		technicians = append(technicians, t)
	}

	return technicians, nil
}

// findOneAndUpsert loads the technician under WATCH, applies callback and
// writes the result plus its index entry atomically. A nil result leaves
// the document untouched.
func (r *RedisRepository) findOneAndUpsert(ctx context.Context, id ID, callback func(*Technician) (*Technician, error)) error {
	key := r.key(id)

	txf := func(tx *redis.Tx) error {
		var current *Technician
		jsonData, err := tx.JSONGet(ctx, key, "$").Result()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			current, err = decodeDocument(jsonData)
			if err != nil {
				return err
			}
		}

		result, err := callback(current)
		if err != nil {
			return err
		}
		if result == nil {
			return nil
		}

		jsonBytes, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to serialize technician: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.JSONSet(ctx, key, "$", string(jsonBytes))
			pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(id), Member: id.String()})
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue // Concurrent writer touched the key, retry
		}
		return err
	}

	return fmt.Errorf("technician %s: too many concurrent updates", id)
}

// decodeDocument parses a JSON.GET "$" reply, which wraps the document in an array
func decodeDocument(jsonData string) (*Technician, error) {
	if jsonData == "" || jsonData == "null" {
		return nil, nil
	}

	var jsonArray []json.RawMessage
	if err := json.Unmarshal([]byte(jsonData), &jsonArray); err != nil {
		return nil, fmt.Errorf("failed to parse JSON array from Redis: %w", err)
	}
	if len(jsonArray) == 0 {
		return nil, nil
	}

	t := &Technician{}
	if err := json.Unmarshal(jsonArray[0], t); err != nil {
		return nil, fmt.Errorf("failed to deserialize technician: %w", err)
	}

	return t, nil
}
