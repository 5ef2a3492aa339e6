package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/buntdb"
)

const buntRoomIndex = "code_room"

// BuntCodeCache keeps codes in an embedded buntdb store. Suited to a single
// instance; path ":memory:" keeps nothing on disk.
type BuntCodeCache struct {
	db *buntdb.DB
}

func NewBuntCodeCache(path string) (*BuntCodeCache, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb: %w", err)
	}

	if err := db.CreateIndex(buntRoomIndex, "code:*", buntdb.IndexJSON("room_id")); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create room index: %w", err)
	}

	return &BuntCodeCache{db: db}, nil
}

func buntKey(code string) string {
	return "code:" + code
}

func (c *BuntCodeCache) Get(ctx context.Context, code string) (*CodeEntry, error) {
	var entry CodeEntry
	err := c.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(buntKey(code))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(val), &entry)
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from buntdb: %w", err)
	}

	return &entry, nil
}

func (c *BuntCodeCache) Set(ctx context.Context, code string, entry *CodeEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	return c.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(buntKey(code), string(data), &buntdb.SetOptions{Expires: true, TTL: ttl})
		return err
	})
}

func (c *BuntCodeCache) Delete(ctx context.Context, codes ...string) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		for _, code := range codes {
			if _, err := tx.Delete(buntKey(code)); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return err
			}
		}
		return nil
	})
}

func (c *BuntCodeCache) DeleteRoom(ctx context.Context, roomID string) error {
	pivot, err := json.Marshal(map[string]string{"room_id": roomID})
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *buntdb.Tx) error {
		var keys []string
		err := tx.AscendEqual(buntRoomIndex, string(pivot), func(key, _ string) bool {
			keys = append(keys, key)
			return true
		})
		if err != nil {
			return err
		}
		// keys cannot be removed while the index is being walked
		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return err
			}
		}
		return nil
	})
}

func (c *BuntCodeCache) Close() error {
	return c.db.Close()
}
