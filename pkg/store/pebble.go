package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"chainbot/pkg/logger"
	"chainbot/pkg/models"
)

var (
	db     *pebble.DB
	dbPath string
)

const chainPrefix = "chain:"
const metaPrefix = "meta:"

// Open opens (or creates) a Pebble database at the given path and keeps a
// package handle for simple usage.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// SaveChain writes one chain snapshot under its id. Ended chains keep
// their terminal record here even after the registry drops them.
func SaveChain(snap models.ChainSnapshot) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if snap.ID == "" {
		return fmt.Errorf("chain snapshot missing id")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal chain %s: %w", snap.ID, err)
	}
	if err := db.Set([]byte(chainPrefix+snap.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save chain %s: %w", snap.ID, err)
	}
	return nil
}

// SaveChainRaw writes an already-marshaled snapshot under id. Used by the
// persistence pipeline which carries pre-encoded payloads.
func SaveChainRaw(id string, data []byte) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if id == "" {
		return fmt.Errorf("chain id missing")
	}
	return db.Set([]byte(chainPrefix+id), data, pebble.Sync)
}

// SaveChains writes a batch of snapshots in one atomic pebble batch. This
// is the persistence sweep path: the whole working set lands together.
func SaveChains(snaps []models.ChainSnapshot) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	b := db.NewBatch()
	defer b.Close()
	for _, snap := range snaps {
		if snap.ID == "" {
			continue
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal chain %s: %w", snap.ID, err)
		}
		if err := b.Set([]byte(chainPrefix+snap.ID), data, nil); err != nil {
			return fmt.Errorf("failed to batch chain %s: %w", snap.ID, err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit chain batch: %w", err)
	}
	return nil
}

// GetChain returns the persisted snapshot for id.
func GetChain(id string) (models.ChainSnapshot, error) {
	var snap models.ChainSnapshot
	if db == nil {
		return snap, fmt.Errorf("pebble not opened; call store.Open first")
	}
	val, closer, err := db.Get([]byte(chainPrefix + id))
	if err != nil {
		return snap, err
	}
	defer closer.Close()
	if err := json.Unmarshal(val, &snap); err != nil {
		return snap, fmt.Errorf("corrupt chain record %s: %w", id, err)
	}
	return snap, nil
}

// DeleteChain removes a persisted chain record.
func DeleteChain(id string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Delete([]byte(chainPrefix+id), pebble.Sync)
}

// LoadAll scans every persisted chain snapshot. Corrupt records are
// skipped with a log line rather than failing the whole boot.
func LoadAll() ([]models.ChainSnapshot, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(chainPrefix),
		UpperBound: []byte(chainPrefix + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []models.ChainSnapshot
	for iter.First(); iter.Valid(); iter.Next() {
		var snap models.ChainSnapshot
		if err := json.Unmarshal(iter.Value(), &snap); err != nil {
			logger.Warn("skip_corrupt_chain_record", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, snap)
	}
	return out, iter.Error()
}

// SaveMeta writes a small metadata value (poll offsets, sweep markers).
func SaveMeta(key string, value []byte) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Set([]byte(metaPrefix+key), value, pebble.Sync)
}

// GetMeta reads a metadata value; missing keys return pebble.ErrNotFound.
func GetMeta(key string) ([]byte, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	val, closer, err := db.Get([]byte(metaPrefix + key))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}
