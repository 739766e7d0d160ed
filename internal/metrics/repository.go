package metrics

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"codeberg.org/mutker/profilectl/internal/errors"
	"codeberg.org/mutker/profilectl/internal/logger"
)

const (
	// queuedBatches is how many full batches may wait for the flusher.
	queuedBatches = 4
	// backlogBatches bounds, in batches, the records kept for retry while
	// the database keeps failing.
	backlogBatches = 8
)

// repository buffers records on the caller's goroutine and writes them from
// its own flusher, so Record never waits on sqlite.
type repository struct {
	db     *sql.DB
	logger logger.Logger
	cfg    Config

	mu     sync.Mutex
	buffer []*Record

	batches chan []*Record
	stop    chan struct{}
	flushed chan struct{}

	// backlog is owned by the flusher.
	backlog    []*Record
	backlogLen atomic.Int64
	dropped    atomic.Uint64
}

// NewRepository opens (or creates) the history database and starts the
// flusher. With BatchTimeout set, partial batches are also written on a timer.
func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	if cfg.DBPath == "" {
		return nil, errors.New().New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, failStep(ErrStorageInit, stepFailure{Phase: "create_directory", Path: cfg.DBPath}, err)
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_foreign_keys=1"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, failStep(ErrStorageInit, stepFailure{Phase: "open_database", Path: cfg.DBPath}, err)
	}

	if err := ValidateAndUpdateSchema(db, cfg.DBPath, log); err != nil {
		db.Close()
		return nil, failStep(ErrStorageInit, stepFailure{Phase: "schema_version", Path: cfg.DBPath}, err)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("History repository initialized")

	repo := &repository{
		db:      db,
		logger:  log,
		cfg:     cfg,
		buffer:  make([]*Record, 0, cfg.BatchSize),
		batches: make(chan []*Record, queuedBatches),
		stop:    make(chan struct{}),
		flushed: make(chan struct{}),
	}
	go repo.flusher()

	return repo, nil
}

func (r *repository) Record(rec *Record) error {
	r.mu.Lock()
	r.buffer = append(r.buffer, rec)
	if len(r.buffer) < r.cfg.BatchSize {
		r.mu.Unlock()
		return nil
	}
	batch := r.buffer
	r.buffer = make([]*Record, 0, r.cfg.BatchSize)
	r.mu.Unlock()

	r.enqueue(batch)

	return nil
}

// enqueue hands a batch to the flusher, dropping the oldest queued batch
// when the queue is full.
func (r *repository) enqueue(batch []*Record) {
	for {
		select {
		case r.batches <- batch:
			return
		default:
		}

		select {
		case old := <-r.batches:
			r.drop(len(old), "History queue full")
		default:
		}
	}
}

func (r *repository) Close() error {
	close(r.stop)
	<-r.flushed

	if n := r.backlogLen.Load(); n > 0 {
		r.logger.Warn().Int64("records", n).Msg("Dropping unflushed history records")
	}

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return failStep(ErrStorageClose, stepFailure{Phase: "checkpoint_wal"}, err)
	}

	if err := r.db.Close(); err != nil {
		return failStep(ErrStorageClose, stepFailure{Phase: "close_database"}, err)
	}

	r.logger.Info().Uint64("dropped", r.dropped.Load()).Msg("History repository closed")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushed)

	var tick <-chan time.Time
	if r.cfg.BatchTimeout > 0 {
		ticker := time.NewTicker(r.cfg.BatchTimeout)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case batch := <-r.batches:
			r.write(batch)
		case <-tick:
			r.write(r.take())
		case <-r.stop:
			for {
				select {
				case batch := <-r.batches:
					r.write(batch)
				default:
					r.write(r.take())
					return
				}
			}
		}
	}
}

// take empties the partial batch.
func (r *repository) take() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := r.buffer
	r.buffer = make([]*Record, 0, r.cfg.BatchSize)

	return batch
}

// write flushes the backlog and batch together. On failure they are kept
// for the next attempt, trimmed from the oldest end.
func (r *repository) write(batch []*Record) {
	records := append(r.backlog, batch...)
	if len(records) == 0 {
		return
	}

	if err := r.flush(records); err != nil {
		if over := len(records) - r.cfg.BatchSize*backlogBatches; over > 0 {
			records = records[over:]
			r.drop(over, "History backlog full")
		}
		r.backlog = records
		r.backlogLen.Store(int64(len(records)))
		r.logger.Warn().Err(err).Int("backlog", len(records)).Msg("History flush failed")
		return
	}

	r.backlog = nil
	r.backlogLen.Store(0)
}

func (r *repository) drop(n int, msg string) {
	r.dropped.Add(uint64(n))
	r.logger.Warn().Int("records", n).Msg(msg + ", dropping oldest records")
}

// flush writes records in one transaction.
func (r *repository) flush(records []*Record) error {
	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	if err := insertRecords(tx, records); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error().Err(rbErr).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(records)).Msg("Flushed history to database")

	return nil
}

func insertRecords(tx *sql.Tx, records []*Record) error {
	statusStmt, err := tx.Prepare(insertStatusSQL)
	if err != nil {
		return err
	}
	defer statusStmt.Close()

	zoneStmt, err := tx.Prepare(insertZoneStatusSQL)
	if err != nil {
		return err
	}
	defer zoneStmt.Close()

	for _, rec := range records {
		res, err := statusStmt.Exec(
			rec.Timestamp.UnixMilli(),
			int64(rec.Tick),
			rec.Profile,
			rec.Reason,
			rec.Severity,
			boolToInt(rec.Emergency),
			rec.Phase,
			rec.Trend,
		)
		if err != nil {
			return err
		}

		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		for _, z := range rec.Zones {
			if _, err := zoneStmt.Exec(
				id,
				z.Name,
				boolToInt(z.Active),
				z.Temperature,
				z.FanSpeed,
				z.Severity,
				boolToInt(z.FanStall),
				z.Slope,
			); err != nil {
				return err
			}
		}
	}

	return nil
}
