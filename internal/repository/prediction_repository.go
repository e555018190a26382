package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/herry-alex/cryptotrkr/internal/domain"

	_ "modernc.org/sqlite"
)

const dateLayout = "2006-01-02"

// Schema statements are idempotent; RunMigrations applies them on every
// start. The unique index on results.prediction_id is what guarantees a
// prediction is evaluated at most once.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS predictions (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol          TEXT NOT NULL,
		source          TEXT NOT NULL,
		prediction_date TEXT NOT NULL,
		target_date     TEXT NOT NULL,
		predicted_price REAL NOT NULL,
		created_at      TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE INDEX IF NOT EXISTS idx_predictions_target_date
		ON predictions (target_date);`,
	`CREATE TABLE IF NOT EXISTS results (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		prediction_id INTEGER NOT NULL REFERENCES predictions(id),
		actual_price  REAL,
		abs_error     REAL,
		pct_error     REAL,
		evaluated_on  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_results_prediction_id
		ON results (prediction_id);`,
}

// PredictionRepository is the append-only SQLite store for predictions and
// their evaluation results.
type PredictionRepository struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewPredictionRepository opens (creating if needed) the SQLite database at
// path. An unreachable database is a fatal condition for callers.
func NewPredictionRepository(ctx context.Context, path string, tracer trace.Tracer) (*PredictionRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	return &PredictionRepository{db: db, tracer: tracer}, nil
}

func (r *PredictionRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *PredictionRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "prediction-repo.run-migrations")
	defer span.End()

	for _, stmt := range schemaStatements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// InsertPrediction appends one prediction row and returns its id. Duplicate
// observations of the same target/price are stored as distinct rows.
func (r *PredictionRepository) InsertPrediction(ctx context.Context, p domain.Prediction) (int64, error) {
	_, span := r.tracer.Start(ctx, "prediction-repo.insert-prediction")
	defer span.End()

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO predictions (symbol, source, prediction_date, target_date, predicted_price)
		 VALUES (?, ?, ?, ?, ?)`,
		p.Symbol, p.Source, p.PredictionDate.Format(dateLayout), p.TargetDate.Format(dateLayout), p.PredictedPrice,
	)
	if err != nil {
		return 0, fmt.Errorf("insert prediction: %w", err)
	}
	return res.LastInsertId()
}

// ListDueUnevaluated returns predictions whose target date is on or before
// asOf and which have no result row yet, oldest target first.
func (r *PredictionRepository) ListDueUnevaluated(ctx context.Context, asOf time.Time) ([]domain.Prediction, error) {
	_, span := r.tracer.Start(ctx, "prediction-repo.list-due-unevaluated")
	defer span.End()

	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.symbol, p.source, p.prediction_date, p.target_date, p.predicted_price, p.created_at
		 FROM predictions p
		 LEFT JOIN results res ON res.prediction_id = p.id
		 WHERE res.id IS NULL AND DATE(p.target_date) <= DATE(?)
		 ORDER BY p.target_date ASC, p.id ASC`,
		asOf.Format(dateLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []domain.Prediction
	for rows.Next() {
		p, err := scanPredictionRow(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, p)
	}
	return due, rows.Err()
}

// InsertResult records the evaluation outcome for a prediction. A second
// result for the same prediction violates the unique index and errors.
func (r *PredictionRepository) InsertResult(ctx context.Context, res domain.EvaluationResult) (int64, error) {
	_, span := r.tracer.Start(ctx, "prediction-repo.insert-result")
	defer span.End()

	pct := sql.NullFloat64{}
	if res.PctError != nil {
		pct = sql.NullFloat64{Float64: *res.PctError, Valid: true}
	}

	row, err := r.db.ExecContext(ctx,
		`INSERT INTO results (prediction_id, actual_price, abs_error, pct_error)
		 VALUES (?, ?, ?, ?)`,
		res.PredictionID, res.ActualPrice, res.AbsError, pct,
	)
	if err != nil {
		return 0, fmt.Errorf("insert result for prediction %d: %w", res.PredictionID, err)
	}
	return row.LastInsertId()
}

// GetResult returns the stored result for a prediction, or nil when the
// prediction has not been evaluated.
func (r *PredictionRepository) GetResult(ctx context.Context, predictionID int64) (*domain.EvaluationResult, error) {
	_, span := r.tracer.Start(ctx, "prediction-repo.get-result")
	defer span.End()

	row := r.db.QueryRowContext(ctx,
		`SELECT id, prediction_id, actual_price, abs_error, pct_error, evaluated_on
		 FROM results
		 WHERE prediction_id = ?`,
		predictionID,
	)

	var (
		res         domain.EvaluationResult
		actual      sql.NullFloat64
		absErr      sql.NullFloat64
		pctErr      sql.NullFloat64
		evaluatedOn string
	)
	if err := row.Scan(&res.ID, &res.PredictionID, &actual, &absErr, &pctErr, &evaluatedOn); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	res.ActualPrice = actual.Float64
	res.AbsError = absErr.Float64
	if pctErr.Valid {
		v := pctErr.Float64
		res.PctError = &v
	}
	res.EvaluatedOn = parseStoredTimestamp(evaluatedOn)
	return &res, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPredictionRow(row scanner) (domain.Prediction, error) {
	var (
		p          domain.Prediction
		predDate   string
		targetDate string
		createdAt  string
	)
	if err := row.Scan(&p.ID, &p.Symbol, &p.Source, &predDate, &targetDate, &p.PredictedPrice, &createdAt); err != nil {
		return domain.Prediction{}, err
	}

	var err error
	if p.PredictionDate, err = parseStoredDate(predDate); err != nil {
		return domain.Prediction{}, err
	}
	if p.TargetDate, err = parseStoredDate(targetDate); err != nil {
		return domain.Prediction{}, err
	}
	p.CreatedAt = parseStoredTimestamp(createdAt)
	return p, nil
}

func parseStoredDate(v string) (time.Time, error) {
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed stored date %q: %w", v, err)
	}
	return t.UTC(), nil
}

// parseStoredTimestamp tolerates CURRENT_TIMESTAMP values and RFC3339; a
// zero time means the column was unreadable.
func parseStoredTimestamp(v string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
