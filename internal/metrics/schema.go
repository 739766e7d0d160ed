package metrics

import (
	"database/sql"

	"codeberg.org/mutker/profilectl/internal/errors"
	"codeberg.org/mutker/profilectl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS status (
	       id         INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp  INTEGER NOT NULL,
	       tick       INTEGER NOT NULL,
	       profile    TEXT NOT NULL,
	       reason     TEXT NOT NULL,
	       severity   INTEGER NOT NULL CHECK (severity BETWEEN 0 AND 2),
	       emergency  INTEGER NOT NULL CHECK (emergency IN (0, 1)),
	       phase      TEXT NOT NULL,
	       trend      REAL NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS status_timestamp ON status (timestamp);
	   CREATE TABLE IF NOT EXISTS zone_status (
	       status_id   INTEGER NOT NULL REFERENCES status (id) ON DELETE CASCADE,
	       zone        TEXT NOT NULL,
	       active      INTEGER NOT NULL CHECK (active IN (0, 1)),
	       temperature REAL NOT NULL,
	       fan_speed   REAL NOT NULL,
	       severity    INTEGER NOT NULL CHECK (severity BETWEEN 0 AND 2),
	       fan_stall   INTEGER NOT NULL CHECK (fan_stall IN (0, 1)),
	       slope       REAL NOT NULL,
	       PRIMARY KEY (status_id, zone)
	   );`

	insertStatusSQL = `
    INSERT INTO status (
        timestamp, tick, profile, reason,
        severity, emergency, phase, trend
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	insertZoneStatusSQL = `
    INSERT INTO zone_status (
        status_id, zone, active,
        temperature, fan_speed, severity, fan_stall, slope
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
)

var tables = []string{"zone_status", "status", "schema_versions"}

// stepFailure is attached to storage errors so the log names the step.
type stepFailure struct {
	Phase string
	Table string `json:",omitempty"`
	Path  string `json:",omitempty"`
	Error string
}

func failStep(code errors.ErrorCode, f stepFailure, err error) error {
	f.Error = err.Error()
	return errors.New().WithData(code, f)
}

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Int("version", SchemaVersion).Msg("Creating history tables")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return failStep(ErrSchemaInitFailed, stepFailure{Phase: "create_tables"}, err)
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return failStep(ErrSchemaInitFailed, stepFailure{Phase: "record_version"}, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().Int("version", SchemaVersion).Msg("History schema ready")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for an empty database
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, failStep(ErrSchemaValidationFailed, stepFailure{Phase: "get_version"}, err)
	}

	return version, nil
}

func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, failStep(ErrSchemaValidationFailed, stepFailure{Phase: "check_table_exists", Table: tableName}, err)
	}
	return exists, nil
}
