package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/irfndi/regimebot/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	LedgerFile    = "ledger.json"
	FillsFile     = "fills.jsonl"
	HeartbeatFile = "heartbeat.json"

	schemaVersion = 1
)

var equityTolerance = decimal.New(1, -8)

// CorruptionError means persisted state failed structural validation. The
// store never repairs it; an operator restores a snapshot instead.
type CorruptionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger corruption in %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("ledger corruption in %s: %s", e.Path, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

type ledgerRecord struct {
	Version      int              `json:"version"`
	Symbol       string           `json:"symbol"`
	Equity       models.Equity    `json:"equity"`
	Position     *models.Position `json:"position"`
	FillCount    int              `json:"fill_count"`
	LastCandleAt time.Time        `json:"last_candle_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Store reads and writes the ledger files of one state directory. It keeps no
// absolute paths in the files, so a directory restored elsewhere loads as is.
type Store struct {
	dir             string
	symbol          string
	startingBalance decimal.Decimal
	logger          *logrus.Logger
}

func NewStore(dir, symbol string, startingBalance decimal.Decimal, logger *logrus.Logger) *Store {
	return &Store{dir: dir, symbol: symbol, startingBalance: startingBalance, logger: logger}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// Load returns the committed state, or a seeded flat state when the directory
// has never been committed to.
func (s *Store) Load() (*State, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	ledgerPath := s.path(LedgerFile)
	data, err := os.ReadFile(ledgerPath)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.WithFields(logrus.Fields{
			"dir":              s.dir,
			"starting_balance": s.startingBalance.String(),
		}).Info("No ledger found, starting with a flat account")
		return &State{
			Symbol: s.symbol,
			Equity: models.NewEquity(s.startingBalance),
			Fresh:  true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var rec ledgerRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return nil, &CorruptionError{Path: LedgerFile, Reason: "undecodable", Err: err}
	}
	if err := s.validateRecord(&rec); err != nil {
		return nil, err
	}

	fills, err := s.readFills(rec.FillCount)
	if err != nil {
		return nil, err
	}
	if err := validateFillHistory(&rec, fills); err != nil {
		return nil, err
	}

	return &State{
		Symbol:       rec.Symbol,
		Equity:       rec.Equity,
		Position:     rec.Position,
		Fills:        fills,
		LastCandleAt: rec.LastCandleAt,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}

func (s *Store) validateRecord(rec *ledgerRecord) error {
	corrupt := func(reason string, args ...interface{}) error {
		return &CorruptionError{Path: LedgerFile, Reason: fmt.Sprintf(reason, args...)}
	}

	if rec.Version != schemaVersion {
		return corrupt("unsupported schema version %d", rec.Version)
	}
	if rec.Symbol != s.symbol {
		return corrupt("ledger belongs to %q, configured symbol is %q", rec.Symbol, s.symbol)
	}
	if rec.FillCount < 0 {
		return corrupt("negative fill count %d", rec.FillCount)
	}

	eq := rec.Equity
	if eq.Cash.IsNegative() {
		return corrupt("negative cash %s", eq.Cash)
	}
	if eq.HighWaterMark.LessThan(eq.TotalEquity.Sub(equityTolerance)) {
		return corrupt("high water mark %s below total equity %s", eq.HighWaterMark, eq.TotalEquity)
	}

	if pos := rec.Position; pos != nil {
		switch {
		case pos.Symbol != rec.Symbol:
			return corrupt("position symbol %q does not match ledger symbol", pos.Symbol)
		case !pos.Quantity.IsPositive():
			return corrupt("position quantity %s not positive", pos.Quantity)
		case !pos.EntryPrice.IsPositive():
			return corrupt("position entry price %s not positive", pos.EntryPrice)
		case !pos.StopPrice.IsPositive() || pos.StopPrice.GreaterThanOrEqual(pos.EntryPrice):
			return corrupt("stop price %s outside (0, entry %s)", pos.StopPrice, pos.EntryPrice)
		case !pos.MarkPrice.IsPositive():
			return corrupt("position mark price %s not positive", pos.MarkPrice)
		}
	}

	expected := eq.Cash.Add(rec.Position.MarketValue())
	if expected.Sub(eq.TotalEquity).Abs().GreaterThan(equityTolerance) {
		return corrupt("total equity %s does not equal cash plus position value %s", eq.TotalEquity, expected)
	}
	return nil
}

// readFills returns exactly the committed lines. Lines past count belong to a
// commit that never completed and are ignored.
func (s *Store) readFills(count int) ([]models.Fill, error) {
	fills := make([]models.Fill, 0, count)
	if count == 0 {
		return fills, nil
	}

	f, err := os.Open(s.path(FillsFile))
	if err != nil {
		return nil, &CorruptionError{Path: FillsFile, Reason: "fill history unreadable", Err: err}
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	for len(fills) < count {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var fill models.Fill
			if uerr := json.Unmarshal(line, &fill); uerr != nil {
				return nil, &CorruptionError{Path: FillsFile, Reason: fmt.Sprintf("line %d undecodable", len(fills)+1), Err: uerr}
			}
			if verr := validateFill(fill); verr != "" {
				return nil, &CorruptionError{Path: FillsFile, Reason: fmt.Sprintf("line %d: %s", len(fills)+1, verr)}
			}
			fills = append(fills, fill)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read fills: %w", err)
		}
	}

	if len(fills) < count {
		return nil, &CorruptionError{Path: FillsFile, Reason: fmt.Sprintf("ledger records %d fills, history has %d", count, len(fills))}
	}
	return fills, nil
}

func validateFill(f models.Fill) string {
	switch {
	case f.ID == "":
		return "missing id"
	case f.Side != models.SideBuy && f.Side != models.SideSell:
		return fmt.Sprintf("unknown side %q", f.Side)
	case !f.Quantity.IsPositive():
		return "quantity not positive"
	case !f.Price.IsPositive():
		return "price not positive"
	case f.Fee.IsNegative():
		return "negative fee"
	case f.Timestamp.IsZero():
		return "missing timestamp"
	}
	return ""
}

// validateFillHistory checks the open position agrees with the last fill.
func validateFillHistory(rec *ledgerRecord, fills []models.Fill) error {
	if len(fills) == 0 {
		if rec.Position != nil {
			return &CorruptionError{Path: LedgerFile, Reason: "open position without an entry fill"}
		}
		return nil
	}
	last := fills[len(fills)-1]
	if rec.Position != nil && last.Side != models.SideBuy {
		return &CorruptionError{Path: FillsFile, Reason: "open position but last fill is a sell"}
	}
	if rec.Position == nil && last.Side != models.SideSell {
		return &CorruptionError{Path: FillsFile, Reason: "flat ledger but last fill is a buy"}
	}
	return nil
}

// Commit persists state. The fill history is rewritten first and the ledger
// record last; the record's fill count is what makes new fills visible, so a
// crash at any point leaves the previous commit intact.
func (s *Store) Commit(state *State, now time.Time) error {
	prev, err := s.committedFillCount()
	if err != nil {
		return err
	}
	if len(state.Fills) < prev {
		return fmt.Errorf("commit would drop fill history: have %d, committed %d", len(state.Fills), prev)
	}

	if len(state.Fills) > 0 {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, fill := range state.Fills {
			if err := enc.Encode(fill); err != nil {
				return fmt.Errorf("encode fill %s: %w", fill.ID, err)
			}
		}
		if err := writeFileAtomic(s.path(FillsFile), buf.Bytes()); err != nil {
			return fmt.Errorf("write fills: %w", err)
		}
	}

	rec := ledgerRecord{
		Version:      schemaVersion,
		Symbol:       state.Symbol,
		Equity:       state.Equity,
		Position:     state.Position,
		FillCount:    len(state.Fills),
		LastCandleAt: state.LastCandleAt,
		UpdatedAt:    now.UTC(),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := writeFileAtomic(s.path(LedgerFile), data); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"fills":        len(state.Fills),
		"new_fills":    len(state.Fills) - prev,
		"total_equity": state.Equity.TotalEquity.String(),
		"holding":      state.Position != nil,
	}).Debug("Ledger committed")
	return nil
}

func (s *Store) committedFillCount() (int, error) {
	data, err := os.ReadFile(s.path(LedgerFile))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read ledger: %w", err)
	}
	var rec ledgerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, &CorruptionError{Path: LedgerFile, Reason: "undecodable", Err: err}
	}
	return rec.FillCount, nil
}

// WriteHeartbeat overwrites the heartbeat record.
func (s *Store) WriteHeartbeat(hb models.Heartbeat) error {
	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}
	return writeFileAtomic(s.path(HeartbeatFile), data)
}

// ReadHeartbeat returns the last heartbeat; os.ErrNotExist when none was written.
func (s *Store) ReadHeartbeat() (models.Heartbeat, error) {
	var hb models.Heartbeat
	data, err := os.ReadFile(s.path(HeartbeatFile))
	if err != nil {
		return hb, err
	}
	if err := json.Unmarshal(data, &hb); err != nil {
		return hb, fmt.Errorf("decode heartbeat: %w", err)
	}
	return hb, nil
}
