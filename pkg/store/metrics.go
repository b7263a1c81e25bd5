package store

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// Stats is a compact view of the store for the admin surface.
type Stats struct {
	Chains    int    `json:"chains"`
	DiskBytes uint64 `json:"disk_bytes"`
}

// GetStats returns best-effort store statistics: the number of persisted
// chains and the on-disk size of the DB directory.
func GetStats() Stats {
	var s Stats
	if db == nil {
		return s
	}
	iter, err := db.NewIter(nil)
	if err == nil {
		for iter.First(); iter.Valid(); iter.Next() {
			if strings.HasPrefix(string(iter.Key()), chainPrefix) {
				s.Chains++
			}
		}
		_ = iter.Close()
	}
	if dbPath == "" {
		return s
	}
	_ = filepath.WalkDir(dbPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			s.DiskBytes += uint64(fi.Size())
		}
		return nil
	})
	return s
}
