// Package store provides crash-safe position and account persistence for
// live-mode engine restarts, so the in-memory broker/inventory state can
// reconcile against the last snapshot instead of starting blind.
//
// Backed by an embedded SQLite database: a single file, one idempotent
// CREATE TABLE IF NOT EXISTS schema step with no version tracking, and plain
// database/sql access rather than an ORM.
package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/perpx/engine/internal/types"
)

// Store persists account and position snapshots to an embedded SQLite
// database in a designated directory.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the store's SQLite database under dir and runs
// migrations.
func Open(dir string) (*Store, error) {
	path := filepath.Join(dir, "engine.db")
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			exchange          TEXT NOT NULL,
			symbol            TEXT NOT NULL,
			side              TEXT NOT NULL,
			quantity          TEXT NOT NULL,
			entry_price       TEXT NOT NULL,
			unrealized_pnl    TEXT NOT NULL,
			realized_pnl      TEXT NOT NULL,
			leverage          TEXT NOT NULL,
			margin_mode       TEXT NOT NULL DEFAULT '',
			isolated_margin   TEXT NOT NULL DEFAULT '0',
			liquidation_price TEXT NOT NULL DEFAULT '0',
			funding_fee       TEXT NOT NULL DEFAULT '0',
			PRIMARY KEY (exchange, symbol)
		);

		CREATE TABLE IF NOT EXISTS account (
			id                    INTEGER PRIMARY KEY CHECK (id = 1),
			balance               TEXT NOT NULL,
			available_balance     TEXT NOT NULL,
			used_margin           TEXT NOT NULL,
			unrealized_pnl_total  TEXT NOT NULL,
			realized_pnl_total    TEXT NOT NULL,
			total_fee             TEXT NOT NULL,
			total_funding_fee     TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migration v1: %w", err)
	}
	return nil
}

// SavePosition atomically persists the current position for one
// (exchange, symbol) pair, overwriting any prior snapshot.
func (s *Store) SavePosition(exchange types.Exchange, symbol types.Symbol, pos types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO positions (
			exchange, symbol, side, quantity, entry_price, unrealized_pnl,
			realized_pnl, leverage, margin_mode, isolated_margin, liquidation_price, funding_fee
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(exchange, symbol) DO UPDATE SET
			side = excluded.side, quantity = excluded.quantity, entry_price = excluded.entry_price,
			unrealized_pnl = excluded.unrealized_pnl, realized_pnl = excluded.realized_pnl,
			leverage = excluded.leverage, margin_mode = excluded.margin_mode,
			isolated_margin = excluded.isolated_margin, liquidation_price = excluded.liquidation_price,
			funding_fee = excluded.funding_fee
	`,
		string(exchange), string(symbol), string(pos.Side),
		pos.Quantity.String(), pos.EntryPrice.String(), pos.UnrealizedPnl.String(),
		pos.RealizedPnl.String(), pos.Leverage.String(), pos.MarginMode,
		pos.IsolatedMargin.String(), pos.LiquidationPrice.String(), pos.FundingFee.String(),
	)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// LoadPosition restores a position from disk. Returns nil, nil if no saved
// position exists (fresh symbol).
func (s *Store) LoadPosition(exchange types.Exchange, symbol types.Symbol) (*types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT side, quantity, entry_price, unrealized_pnl, realized_pnl,
		       leverage, margin_mode, isolated_margin, liquidation_price, funding_fee
		FROM positions WHERE exchange = ? AND symbol = ?
	`, string(exchange), string(symbol))

	var side, quantity, entryPrice, unrealizedPnl, realizedPnl string
	var leverage, marginMode, isolatedMargin, liquidationPrice, fundingFee string
	err := row.Scan(&side, &quantity, &entryPrice, &unrealizedPnl, &realizedPnl,
		&leverage, &marginMode, &isolatedMargin, &liquidationPrice, &fundingFee)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}

	pos := types.Position{
		Exchange: exchange, Symbol: symbol, Side: types.PositionSide(side),
		Quantity: mustDecimal(quantity), EntryPrice: mustDecimal(entryPrice),
		UnrealizedPnl: mustDecimal(unrealizedPnl), RealizedPnl: mustDecimal(realizedPnl),
		Leverage: mustDecimal(leverage), MarginMode: marginMode,
		IsolatedMargin: mustDecimal(isolatedMargin), LiquidationPrice: mustDecimal(liquidationPrice),
		FundingFee: mustDecimal(fundingFee),
	}
	return &pos, nil
}

// SaveAccount atomically persists the single account snapshot.
func (s *Store) SaveAccount(acc types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO account (
			id, balance, available_balance, used_margin,
			unrealized_pnl_total, realized_pnl_total, total_fee, total_funding_fee
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			balance = excluded.balance, available_balance = excluded.available_balance,
			used_margin = excluded.used_margin, unrealized_pnl_total = excluded.unrealized_pnl_total,
			realized_pnl_total = excluded.realized_pnl_total, total_fee = excluded.total_fee,
			total_funding_fee = excluded.total_funding_fee
	`,
		acc.Balance.String(), acc.AvailableBalance.String(), acc.UsedMargin.String(),
		acc.UnrealizedPnlTotal.String(), acc.RealizedPnlTotal.String(),
		acc.TotalFee.String(), acc.TotalFundingFee.String(),
	)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

// LoadAccount restores the account snapshot from disk. Returns nil, nil if
// none exists (fresh start).
func (s *Store) LoadAccount() (*types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT balance, available_balance, used_margin,
		       unrealized_pnl_total, realized_pnl_total, total_fee, total_funding_fee
		FROM account WHERE id = 1
	`)

	var balance, available, usedMargin, unrealizedTotal, realizedTotal, totalFee, totalFundingFee string
	err := row.Scan(&balance, &available, &usedMargin, &unrealizedTotal, &realizedTotal, &totalFee, &totalFundingFee)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	acc := types.Account{
		Balance: mustDecimal(balance), AvailableBalance: mustDecimal(available),
		UsedMargin: mustDecimal(usedMargin), UnrealizedPnlTotal: mustDecimal(unrealizedTotal),
		RealizedPnlTotal: mustDecimal(realizedTotal), TotalFee: mustDecimal(totalFee),
		TotalFundingFee: mustDecimal(totalFundingFee),
	}
	return &acc, nil
}

// mustDecimal parses a column value written by this package; a parse
// failure here means the database was corrupted or hand-edited.
func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
