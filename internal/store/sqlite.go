package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"

	"github.com/lox/canecast/internal/metrics"
	"github.com/lox/canecast/internal/models"
)

// DefaultHistoryLimit is how many records the history log keeps.
const DefaultHistoryLimit = 50

type Store struct {
	db    *sqlx.DB
	limit int
}

func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "sqlite"), limit: DefaultHistoryLimit}
}

// SetLimit changes how many records InsertRecord retains.
func (s *Store) SetLimit(n int) {
	if n > 0 {
		s.limit = n
	}
}

func (s *Store) Limit() int {
	return s.limit
}

// InsertRecord prepends a record to the history and truncates it to the
// configured limit. Saving an existing id replaces it and moves it to the
// front.
func (s *Store) InsertRecord(r models.PredictionRecord) error {
	if r.ID == "" {
		return errors.New("record id required")
	}
	input, err := json.Marshal(r.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	prediction, err := json.Marshal(r.Prediction)
	if err != nil {
		return fmt.Errorf("marshal prediction: %w", err)
	}

	var bestN, bestP, bestK sql.NullInt64
	if len(r.Prediction.TopNpk) > 0 {
		top := r.Prediction.TopNpk[0]
		bestN = sql.NullInt64{Int64: int64(top.N), Valid: true}
		bestP = sql.NullInt64{Int64: int64(top.P), Valid: true}
		bestK = sql.NullInt64{Int64: int64(top.K), Valid: true}
	}

	err = withBusyRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM predictions WHERE id = ?`, r.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO predictions (id, created_at, soil_type, season, predicted_yield, best_n, best_p, best_k, input_json, prediction_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.Input.CreatedAt.UTC(), r.Input.SoilType, r.Input.Season, r.Prediction.PredictedYield,
			bestN, bestP, bestK, string(input), string(prediction)); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			DELETE FROM predictions
			WHERE seq NOT IN (SELECT seq FROM predictions ORDER BY seq DESC LIMIT ?)
		`, s.limit); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		metrics.HistoryWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("insert record %s: %w", r.ID, err)
	}
	metrics.HistoryWrites.WithLabelValues("ok").Inc()
	return nil
}

// ListRecords returns up to limit records, newest first. A non-positive
// limit means the store's retention limit.
func (s *Store) ListRecords(limit int) ([]models.PredictionRecord, error) {
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	var rows []recordRow
	err := s.db.Select(&rows, `
		SELECT id, input_json, prediction_json
		FROM predictions
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}

	records := make([]models.PredictionRecord, 0, len(rows))
	for _, row := range rows {
		r, err := row.decode()
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// GetRecord returns the record with the given id, or nil if none exists.
func (s *Store) GetRecord(id string) (*models.PredictionRecord, error) {
	var row recordRow
	err := s.db.Get(&row, `SELECT id, input_json, prediction_json FROM predictions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r, err := row.decode()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteRecord removes one record and reports whether it existed.
func (s *Store) DeleteRecord(id string) (bool, error) {
	var n int64
	err := withBusyRetry(func() error {
		res, err := s.db.Exec(`DELETE FROM predictions WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearRecords truncates the history and returns how many records it held.
func (s *Store) ClearRecords() (int64, error) {
	var n int64
	err := withBusyRetry(func() error {
		res, err := s.db.Exec(`DELETE FROM predictions`)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (s *Store) CountRecords() (int, error) {
	var n int
	err := s.db.Get(&n, `SELECT COUNT(*) FROM predictions`)
	return n, err
}

type recordRow struct {
	ID         string `db:"id"`
	Input      string `db:"input_json"`
	Prediction string `db:"prediction_json"`
}

func (row recordRow) decode() (models.PredictionRecord, error) {
	r := models.PredictionRecord{ID: row.ID}
	if err := json.Unmarshal([]byte(row.Input), &r.Input); err != nil {
		return r, fmt.Errorf("decode input of %s: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.Prediction), &r.Prediction); err != nil {
		return r, fmt.Errorf("decode prediction of %s: %w", row.ID, err)
	}
	return r, nil
}

// withBusyRetry retries op while another connection or process holds the
// database lock. Other errors are returned immediately.
func withBusyRetry(op func() error) error {
	operation := func() error {
		err := op()
		if err != nil && !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(operation, bo)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
