package dbstore

import "os"

// PoolState reports the current logical pool occupancy.
type PoolState struct {
	MaxConnections int
	InUse          int
}

// Stats summarizes the store for diagnostics: per-table row counts, file
// size on disk, pool occupancy, and schema version.
type Stats struct {
	RowCounts     map[string]int64
	FileSizeBytes int64
	Pool          PoolState
	SchemaVersion int
}

// Stats gathers current store diagnostics.
func (s *Store) Stats() (Stats, error) {
	counts := make(map[string]int64, len(knownTables))
	for _, table := range knownTables {
		if !tableExists(s.db, table) {
			continue
		}
		var n int64
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err == nil {
			counts[table] = n
		}
	}

	var size int64
	if info, err := os.Stat(s.path); err == nil {
		size = info.Size()
	}

	version, err := s.SchemaVersion()
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		RowCounts:     counts,
		FileSizeBytes: size,
		Pool: PoolState{
			MaxConnections: cap(s.sem),
			InUse:          len(s.sem),
		},
		SchemaVersion: version,
	}, nil
}
