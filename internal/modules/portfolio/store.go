// Package portfolio persists strategy portfolios and values them.
package portfolio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/bridgebot/internal/database"
	"github.com/aristath/bridgebot/internal/domain"
)

// StrategyState is the bookkeeping row kept per strategy
type StrategyState struct {
	Name         string          `json:"name"`
	Version      int64           `json:"version"`
	AUM          decimal.Decimal `json:"aum"`
	TriggerCount int64           `json:"trigger_count"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// AUMPoint is one entry of the AUM history
type AUMPoint struct {
	AUM        decimal.Decimal `json:"aum"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// StateStore is the strategy bookkeeping a rebalance cycle needs besides
// the portfolio itself
type StateStore interface {
	EnsureStrategy(ctx context.Context, name string, initialAUM decimal.Decimal) (StrategyState, error)
	State(ctx context.Context, name string) (StrategyState, error)
	States(ctx context.Context) ([]StrategyState, error)
	NextTrigger(ctx context.Context, name string) (int64, error)
	RecordAUM(ctx context.Context, name string, aum decimal.Decimal, at time.Time) error
	AUMHistory(ctx context.Context, name string, limit int) ([]AUMPoint, error)
	AcquireLease(ctx context.Context, name, owner string, now, until time.Time) error
	ReleaseLease(ctx context.Context, name, owner string) error
}

// Store is the sqlite backed portfolio store
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

var (
	_ domain.PortfolioStore = (*Store)(nil)
	_ StateStore            = (*Store)(nil)
)

const allocationColumns = `ticker, kind, quantity, bridge_value`

const strategyColumns = `name, version, aum, trigger_count, created_at, updated_at`

// NewStore creates a store on the portfolio database
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("repo", "portfolio").Logger(),
	}
}

// Load implements domain.PortfolioStore. The version and the holdings are
// read in one transaction so they always describe the same write.
func (s *Store) Load(ctx context.Context, strategy string) (domain.Portfolio, error) {
	var p domain.Portfolio
	err := database.WithTransactionContext(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		p, err = loadTx(ctx, tx, strategy)
		return err
	})
	if err != nil {
		return domain.Portfolio{}, err
	}
	return p, nil
}

func loadTx(ctx context.Context, tx *sql.Tx, strategy string) (domain.Portfolio, error) {
	var version int64
	err := tx.QueryRowContext(ctx, `SELECT version FROM strategies WHERE name = ?`, strategy).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Portfolio{}, fmt.Errorf("failed to load version for %s: %w", strategy, err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+allocationColumns+` FROM allocations WHERE strategy = ? ORDER BY ticker, kind`, strategy)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("failed to query allocations for %s: %w", strategy, err)
	}
	defer rows.Close()

	var allocs []domain.Allocation
	for rows.Next() {
		var ticker, kind, qty, value string
		if err := rows.Scan(&ticker, &kind, &qty, &value); err != nil {
			return domain.Portfolio{}, fmt.Errorf("failed to scan allocation: %w", err)
		}
		quantity, err := decimal.NewFromString(qty)
		if err != nil {
			return domain.Portfolio{}, fmt.Errorf("invalid quantity %q for %s: %w", qty, ticker, err)
		}
		bridgeValue, err := decimal.NewFromString(value)
		if err != nil {
			return domain.Portfolio{}, fmt.Errorf("invalid bridge value %q for %s: %w", value, ticker, err)
		}
		allocs = append(allocs, domain.NewAllocation(
			domain.Asset{Ticker: ticker, Kind: domain.InstrumentKind(kind)},
			quantity, bridgeValue, strategy,
		))
	}
	if err := rows.Err(); err != nil {
		return domain.Portfolio{}, fmt.Errorf("failed to iterate allocations: %w", err)
	}

	return domain.NewPortfolio(strategy, allocs...).WithVersion(version), nil
}

// Replace implements domain.PortfolioStore. The version bump, the delete and
// every insert happen in one transaction.
func (s *Store) Replace(ctx context.Context, strategy string, p domain.Portfolio) error {
	now := time.Now().Unix()

	err := database.WithTransactionContext(ctx, s.db, func(tx *sql.Tx) error {
		var res sql.Result
		var err error
		if p.Version == 0 {
			res, err = tx.ExecContext(ctx, `
				INSERT INTO strategies (name, version, aum, trigger_count, created_at, updated_at)
				VALUES (?, 1, '0', 0, ?, ?)
				ON CONFLICT(name) DO UPDATE SET version = 1, updated_at = excluded.updated_at
				WHERE strategies.version = 0`,
				strategy, now, now)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE strategies SET version = version + 1, updated_at = ? WHERE name = ? AND version = ?`,
				now, strategy, p.Version)
		}
		if err != nil {
			return fmt.Errorf("failed to bump version: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s changed since version %d", domain.ErrPersistenceConflict, strategy, p.Version)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM allocations WHERE strategy = ?`, strategy); err != nil {
			return fmt.Errorf("failed to clear allocations: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO allocations (strategy, `+allocationColumns+`) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, a := range p.Allocations() {
			if _, err := stmt.ExecContext(ctx, strategy, a.Asset.Ticker, string(a.Asset.Kind),
				a.Quantity.String(), a.BridgeValue.String()); err != nil {
				return fmt.Errorf("failed to insert %s: %w", a.Asset, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Debug().
		Str("strategy", strategy).
		Int("allocations", p.Len()).
		Int64("version", p.Version+1).
		Msg("Portfolio replaced")
	return nil
}

// EnsureStrategy creates the bookkeeping row if missing and returns it
func (s *Store) EnsureStrategy(ctx context.Context, name string, initialAUM decimal.Decimal) (StrategyState, error) {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategies (name, version, aum, trigger_count, created_at, updated_at)
		VALUES (?, 0, ?, 0, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		name, initialAUM.String(), now, now)
	if err != nil {
		return StrategyState{}, fmt.Errorf("failed to ensure strategy %s: %w", name, err)
	}
	return s.State(ctx, name)
}

// AcquireLease claims the cycle lease on name for owner until until. Another
// owner's unexpired lease fails it with domain.ErrCycleInFlight, so two
// processes sharing the database never run the same strategy at once.
func (s *Store) AcquireLease(ctx context.Context, name, owner string, now, until time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE strategies SET lease_owner = ?, lease_until = ?
		WHERE name = ? AND (lease_owner IS NULL OR lease_until < ? OR lease_owner = ?)`,
		owner, until.UnixMilli(), name, now.UnixMilli(), owner)
	if err != nil {
		return fmt.Errorf("failed to acquire lease on %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.State(ctx, name); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is leased by another process", domain.ErrCycleInFlight, name)
}

// ReleaseLease drops owner's lease on name. Releasing a lease that expired
// and was taken over is a no-op.
func (s *Store) ReleaseLease(ctx context.Context, name, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE strategies SET lease_owner = NULL, lease_until = NULL WHERE name = ? AND lease_owner = ?`,
		name, owner)
	if err != nil {
		return fmt.Errorf("failed to release lease on %s: %w", name, err)
	}
	return nil
}

// State returns one strategy row or domain.ErrStrategyNotFound
func (s *Store) State(ctx context.Context, name string) (StrategyState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE name = ?`, name)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StrategyState{}, fmt.Errorf("%w: %s", domain.ErrStrategyNotFound, name)
	}
	return st, err
}

// States returns every strategy row ordered by name
func (s *Store) States(ctx context.Context) ([]StrategyState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+strategyColumns+` FROM strategies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	var out []StrategyState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// NextTrigger increments and returns the strategy's trigger counter
func (s *Store) NextTrigger(ctx context.Context, name string) (int64, error) {
	var count int64
	err := database.WithTransactionContext(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE strategies SET trigger_count = trigger_count + 1 WHERE name = ?`, name)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", domain.ErrStrategyNotFound, name)
		}
		return tx.QueryRowContext(ctx, `SELECT trigger_count FROM strategies WHERE name = ?`, name).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to advance trigger counter: %w", err)
	}
	return count, nil
}

// RecordAUM stores the latest AUM on the strategy and appends it to history
func (s *Store) RecordAUM(ctx context.Context, name string, aum decimal.Decimal, at time.Time) error {
	return database.WithTransactionContext(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE strategies SET aum = ?, updated_at = ? WHERE name = ?`, aum.String(), at.Unix(), name)
		if err != nil {
			return fmt.Errorf("failed to update aum: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", domain.ErrStrategyNotFound, name)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO aum_history (strategy, aum, recorded_at) VALUES (?, ?, ?)`,
			name, aum.String(), at.Unix()); err != nil {
			return fmt.Errorf("failed to append aum history: %w", err)
		}
		return nil
	})
}

// AUMHistory returns up to limit points, newest first. limit <= 0 means all.
func (s *Store) AUMHistory(ctx context.Context, name string, limit int) ([]AUMPoint, error) {
	query := `SELECT aum, recorded_at FROM aum_history WHERE strategy = ? ORDER BY recorded_at DESC, id DESC`
	args := []interface{}{name}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query aum history: %w", err)
	}
	defer rows.Close()

	var out []AUMPoint
	for rows.Next() {
		var aum string
		var at int64
		if err := rows.Scan(&aum, &at); err != nil {
			return nil, fmt.Errorf("failed to scan aum point: %w", err)
		}
		v, err := decimal.NewFromString(aum)
		if err != nil {
			return nil, fmt.Errorf("invalid aum %q: %w", aum, err)
		}
		out = append(out, AUMPoint{AUM: v, RecordedAt: time.Unix(at, 0).UTC()})
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanState(row rowScanner) (StrategyState, error) {
	var st StrategyState
	var aum string
	var created, updated int64
	if err := row.Scan(&st.Name, &st.Version, &aum, &st.TriggerCount, &created, &updated); err != nil {
		return StrategyState{}, err
	}
	v, err := decimal.NewFromString(aum)
	if err != nil {
		return StrategyState{}, fmt.Errorf("invalid aum %q for %s: %w", aum, st.Name, err)
	}
	st.AUM = v
	st.CreatedAt = time.Unix(created, 0).UTC()
	st.UpdatedAt = time.Unix(updated, 0).UTC()
	return st, nil
}
