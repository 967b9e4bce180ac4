package dbstore

import (
	"database/sql"
	"fmt"

	"codeintel/internal/coreerr"
	"codeintel/internal/logging"
)

// CurrentSchemaVersion is the latest schema this Store knows how to install
// and migrate to.
const CurrentSchemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS concepts (
	id TEXT PRIMARY KEY,
	canonical_name TEXT NOT NULL,
	signature_fingerprint TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	category TEXT NOT NULL DEFAULT '',
	is_interface INTEGER NOT NULL DEFAULT 0,
	is_abstract INTEGER NOT NULL DEFAULT 0,
	is_deprecated INTEGER NOT NULL DEFAULT 0,
	metadata TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS symbol_representations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	concept_id TEXT NOT NULL REFERENCES concepts(id),
	name TEXT NOT NULL,
	uri TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	start_char INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	end_char INTEGER NOT NULL,
	first_seen DATETIME NOT NULL,
	last_seen DATETIME NOT NULL,
	occurrences INTEGER NOT NULL DEFAULT 0,
	context TEXT
);

CREATE TABLE IF NOT EXISTS concept_relationships (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_concept_id TEXT NOT NULL REFERENCES concepts(id),
	target_concept_id TEXT NOT NULL REFERENCES concepts(id),
	relationship_type TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	evidence TEXT
);

CREATE TABLE IF NOT EXISTS patterns (
	id TEXT PRIMARY KEY,
	from_form TEXT NOT NULL,
	to_form TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	occurrences INTEGER NOT NULL DEFAULT 0,
	category TEXT NOT NULL DEFAULT '',
	last_applied DATETIME,
	created_at DATETIME NOT NULL,
	examples TEXT
);

CREATE TABLE IF NOT EXISTS feedback_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	type TEXT NOT NULL,
	suggestion_id TEXT NOT NULL,
	pattern_id TEXT,
	original TEXT,
	final TEXT,
	context TEXT,
	metadata TEXT,
	created_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);

CREATE TABLE IF NOT EXISTS evolution_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	type TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	file TEXT NOT NULL,
	before_snapshot TEXT,
	after_snapshot TEXT,
	context TEXT,
	impact TEXT,
	metadata TEXT
);

CREATE TABLE IF NOT EXISTS evolution_patterns (
	id TEXT PRIMARY KEY,
	pattern_type TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT,
	frequency INTEGER NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0,
	examples TEXT,
	characteristics TEXT,
	detected_at INTEGER NOT NULL,
	last_seen INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS team_members (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	role TEXT NOT NULL,
	expertise TEXT,
	joined_at INTEGER NOT NULL,
	last_active INTEGER NOT NULL,
	preferences TEXT
);

CREATE TABLE IF NOT EXISTS shared_patterns (
	id TEXT PRIMARY KEY,
	pattern TEXT NOT NULL,
	contributor_id TEXT NOT NULL REFERENCES team_members(id),
	documentation TEXT,
	tags TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	validations TEXT,
	adoptions TEXT,
	metrics TEXT
);

CREATE TABLE IF NOT EXISTS quality_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at INTEGER NOT NULL,
	complexity TEXT,
	duplication TEXT,
	dependencies TEXT,
	test_coverage TEXT,
	maintainability TEXT
);

CREATE INDEX IF NOT EXISTS idx_symbol_representations_concept ON symbol_representations(concept_id);
CREATE INDEX IF NOT EXISTS idx_concept_relationships_source ON concept_relationships(source_concept_id);
CREATE INDEX IF NOT EXISTS idx_concept_relationships_target ON concept_relationships(target_concept_id);
`

// knownTables drives the per-table row counts in Stats().
var knownTables = []string{
	"concepts", "symbol_representations", "concept_relationships", "patterns",
	"feedback_events", "evolution_events", "evolution_patterns", "team_members",
	"shared_patterns", "quality_metrics",
}

// installSchema creates every table/index if absent. CREATE TABLE/INDEX IF
// NOT EXISTS makes the whole statement idempotent and safe to rerun.
func (s *Store) installSchema() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return coreerr.New(coreerr.SchemaMismatch, "dbstore", "installSchema", err)
	}
	return s.recordSchemaVersionIfMissing()
}

func (s *Store) recordSchemaVersionIfMissing() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return coreerr.New(coreerr.SchemaMismatch, "dbstore", "recordSchemaVersionIfMissing", err)
	}
	if count > 0 {
		return nil
	}
	_, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", CurrentSchemaVersion)
	if err != nil {
		return coreerr.New(coreerr.SchemaMismatch, "dbstore", "recordSchemaVersionIfMissing", err)
	}
	return nil
}

// SchemaVersion returns the highest version recorded in schema_version.
func (s *Store) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v)
	if err != nil {
		return 0, coreerr.New(coreerr.SchemaMismatch, "dbstore", "SchemaVersion", err)
	}
	return v, nil
}

// pendingColumnMigration is one ALTER TABLE ADD COLUMN to apply if absent.
type pendingColumnMigration struct {
	Table  string
	Column string
	Def    string
}

// legacyMigrations exist only to keep the event_type/type column pair
// populated identically on tables created before that duplication was
// added: both columns are written on every insert, so readers written
// against either name keep working.
var legacyMigrations = []pendingColumnMigration{
	{"feedback_events", "type", "TEXT"},
	{"evolution_events", "type", "TEXT"},
}

// runMigrations applies any pending column migrations, skipping quietly
// when the target table or column is already present.
func (s *Store) runMigrations() error {
	timer := logging.StartTimer(logging.CategoryDB, "runMigrations")
	defer timer.Stop()

	for _, m := range legacyMigrations {
		if !tableExists(s.db, m.Table) {
			continue
		}
		if columnExists(s.db, m.Table, m.Column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := s.db.Exec(stmt); err != nil {
			logging.Get(logging.CategoryDB).Warnw("migration failed, may already exist",
				"table", m.Table, "column", m.Column, "error", err)
		}
	}
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	return err == nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}
