package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Schema creates the residual table read by Store
const Schema = `
CREATE TABLE IF NOT EXISTS leg_residuals (
	player_id   TEXT NOT NULL,
	stat_type   TEXT NOT NULL,
	game_id     TEXT NOT NULL,
	game_date   DATE NOT NULL,
	projection  DOUBLE PRECISION NOT NULL,
	actual      DOUBLE PRECISION NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (player_id, stat_type, game_id)
);
CREATE INDEX IF NOT EXISTS leg_residuals_player_stat_date
	ON leg_residuals (player_id, stat_type, game_date DESC);
`

// Residual is one settled projection for a player stat
type Residual struct {
	PlayerID   string
	StatType   string
	GameID     string
	GameDate   time.Time
	Projection float64
	Actual     float64
}

// Store reads historical residuals from Postgres
type Store struct {
	db       *sql.DB
	lookback int
	logger   *zap.Logger
}

// NewStore opens and pings the history database
func NewStore(dsn string, lookback int, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewStoreFromDB(db, lookback, logger), nil
}

// NewStoreFromDB wraps an open handle
func NewStoreFromDB(db *sql.DB, lookback int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lookback <= 0 {
		lookback = 50
	}
	return &Store{db: db, lookback: lookback, logger: logger.Named("history")}
}

// Migrate creates the residual table if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create leg_residuals: %w", err)
	}
	return nil
}

// Residuals returns up to lookback recent residuals per leg, keyed by game date so that
// legs of different players line up. Under legs get the negated residual.
func (s *Store) Residuals(ctx context.Context, legs []models.Leg) (models.ResidualHistory, error) {
	if len(legs) == 0 {
		return models.ResidualHistory{}, nil
	}

	players := make([]string, 0, len(legs))
	stats := make([]string, 0, len(legs))
	seen := make(map[string]struct{}, len(legs))
	for _, leg := range legs {
		k := pairKey(leg.PlayerID, leg.StatType)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		players = append(players, leg.PlayerID)
		stats = append(stats, strings.ToLower(leg.StatType))
	}

	query := `
		SELECT player_id, stat_type, game_date, actual - projection AS residual
		FROM (
			SELECT player_id, stat_type, game_date, actual, projection,
			       ROW_NUMBER() OVER (PARTITION BY player_id, stat_type ORDER BY game_date DESC) AS rn
			FROM leg_residuals
			WHERE player_id = ANY($1) AND stat_type = ANY($2)
		) recent
		WHERE rn <= $3
		ORDER BY player_id, stat_type, game_date ASC
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(players), pq.Array(stats), s.lookback)
	if err != nil {
		return nil, fmt.Errorf("query residuals: %w", err)
	}
	defer rows.Close()

	byPair := make(map[string][]models.ResidualObservation)
	for rows.Next() {
		var (
			playerID, statType string
			gameDate           time.Time
			residual           float64
		)
		if err := rows.Scan(&playerID, &statType, &gameDate, &residual); err != nil {
			return nil, fmt.Errorf("scan residual: %w", err)
		}
		k := pairKey(playerID, statType)
		byPair[k] = append(byPair[k], models.ResidualObservation{
			Key:   gameDate.Format("2006-01-02"),
			Value: residual,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate residuals: %w", err)
	}

	history := make(models.ResidualHistory, len(legs))
	for _, leg := range legs {
		observations, ok := byPair[pairKey(leg.PlayerID, leg.StatType)]
		if !ok {
			continue
		}
		sign := 1.0
		if leg.Direction == models.DirectionUnder {
			sign = -1.0
		}
		out := make([]models.ResidualObservation, len(observations))
		for i, obs := range observations {
			out[i] = models.ResidualObservation{Key: obs.Key, Value: sign * obs.Value}
		}
		history[leg.Key()] = out
	}

	s.logger.Debug("loaded residual history",
		zap.Int("legs", len(legs)),
		zap.Int("with_history", len(history)),
	)
	return history, nil
}

// RecordResiduals upserts settled projections in one transaction
func (s *Store) RecordResiduals(ctx context.Context, residuals []Residual) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO leg_residuals (player_id, stat_type, game_id, game_date, projection, actual)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (player_id, stat_type, game_id)
		DO UPDATE SET projection = EXCLUDED.projection, actual = EXCLUDED.actual, recorded_at = NOW()
	`
	for _, r := range residuals {
		if _, err := tx.ExecContext(ctx, query,
			r.PlayerID, strings.ToLower(r.StatType), r.GameID, r.GameDate, r.Projection, r.Actual,
		); err != nil {
			return fmt.Errorf("insert residual %s/%s/%s: %w", r.PlayerID, r.StatType, r.GameID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit residuals: %w", err)
	}
	return nil
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

func pairKey(playerID, statType string) string {
	return playerID + "|" + strings.ToLower(statType)
}
