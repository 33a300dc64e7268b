package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/misionbonos/bond-engine/internal/model"
)

// Schema creates the tables used by PostgresStore. Sessions are stored whole
// as JSONB; trades are also appended to an immutable table with NUMERIC
// columns for reporting.
const Schema = `
CREATE TABLE IF NOT EXISTS game_sessions (
	game_code   TEXT PRIMARY KEY,
	version     BIGINT NOT NULL,
	round       INTEGER NOT NULL,
	finalized   BOOLEAN NOT NULL,
	trade_count INTEGER NOT NULL,
	state       JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id              UUID PRIMARY KEY,
	game_code       TEXT NOT NULL REFERENCES game_sessions (game_code),
	team_name       TEXT NOT NULL,
	bond_id         TEXT NOT NULL,
	side            TEXT NOT NULL,
	round_number    INTEGER NOT NULL,
	quantity        NUMERIC NOT NULL,
	reference_price NUMERIC NOT NULL,
	execution_price NUMERIC NOT NULL,
	commission_paid NUMERIC NOT NULL,
	effective_yield NUMERIC NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS trades_game_code_idx ON trades (game_code, timestamp);
`

// PostgresStore implements SessionStore using PostgreSQL as the source of
// truth. Each Save runs in one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, code string) (*model.GameSession, error) {
	var state []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM game_sessions WHERE game_code = $1`, code).
		Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", code, err)
	}

	var sess model.GameSession
	if err := json.Unmarshal(state, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", code, err)
	}
	if sess.Teams == nil {
		sess.Teams = make(map[string]*model.Team)
	}
	return &sess, nil
}

// Save writes the session and appends trades recorded since the last save.
func (s *PostgresStore) Save(ctx context.Context, sess *model.GameSession) error {
	if err := ValidCode(sess.GameCode); err != nil {
		return err
	}
	state, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.GameCode, err)
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		var storedVersion int64
		var tradeCount int
		err := tx.QueryRow(ctx,
			`SELECT version, trade_count FROM game_sessions WHERE game_code = $1 FOR UPDATE`,
			sess.GameCode).Scan(&storedVersion, &tradeCount)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			storedVersion, tradeCount = -1, 0
		case err != nil:
			return fmt.Errorf("lock session %s: %w", sess.GameCode, err)
		}
		if storedVersion >= sess.Version {
			return fmt.Errorf("%w: %s stored v%d, saving v%d",
				ErrStaleVersion, sess.GameCode, storedVersion, sess.Version)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO game_sessions (game_code, version, round, finalized, trade_count, state, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (game_code) DO UPDATE
			 SET version = EXCLUDED.version, round = EXCLUDED.round, finalized = EXCLUDED.finalized,
			     trade_count = EXCLUDED.trade_count, state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
			sess.GameCode, sess.Version, sess.RoundNumber, sess.Finalized, len(sess.Trades),
			state, sess.CreatedAt, sess.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert session %s: %w", sess.GameCode, err)
		}

		if tradeCount > len(sess.Trades) {
			tradeCount = len(sess.Trades)
		}
		for _, t := range sess.Trades[tradeCount:] {
			if err := insertTrade(ctx, tx, sess.GameCode, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertTrade(ctx context.Context, tx pgx.Tx, code string, t model.Trade) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO trades (id, game_code, team_name, bond_id, side, round_number,
		                     quantity, reference_price, execution_price, commission_paid, effective_yield, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12)
		 ON CONFLICT (id) DO NOTHING`,
		t.ID, code, t.TeamName, t.BondID, string(t.Side), t.RoundNumber,
		t.Quantity.String(), t.ReferencePrice.String(), t.ExecutionPrice.String(),
		t.CommissionPaid.String(), t.EffectiveYield.String(), t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT game_code FROM game_sessions ORDER BY game_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
