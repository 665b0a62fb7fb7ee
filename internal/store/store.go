// Package store persists follower state as JSON files plus CSV exports.
//
// Two documents live in the data directory: follow_setting.json (the
// runtime-tunable parameters) and follow_data.json (per-day run data:
// signal map, loss-follow book, position counters). Writes use atomic
// file replacement (write to .tmp, then rename) so a crash mid-save never
// leaves a torn file. At end of session the run data is snapshotted into
// follow_history/YYYYMMDD_follow_data.json before the session-local parts
// are cleared.
package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"follow-trader/pkg/types"
)

const (
	settingFile = "follow_setting.json"
	dataFile    = "follow_data.json"
	historyDir  = "follow_history"
	tradeDir    = "trade"
	accountFile = "account_info.csv"
)

// Store persists documents to a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	for _, sub := range []string{"", historyDir, tradeDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// saveLocked atomically writes a document. Caller holds s.mu.
func (s *Store) saveLocked(name string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}

// loadLocked reads a document. Reports found=false when the file does not
// exist yet. Caller holds s.mu.
func (s *Store) loadLocked(name string, doc any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return true, nil
}

// SaveSettings persists the runtime parameter document.
func (s *Store) SaveSettings(doc any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(settingFile, doc)
}

// LoadSettings restores the runtime parameter document.
// Reports found=false on first run.
func (s *Store) LoadSettings(doc any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(settingFile, doc)
}

// SaveData persists the run-data document.
func (s *Store) SaveData(doc any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(dataFile, doc)
}

// LoadData restores the run-data document.
func (s *Store) LoadData(doc any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(dataFile, doc)
}

// SnapshotHistory copies the current run-data document into the history
// folder under the given trading day. An existing snapshot for the day is
// left untouched so a second end-of-session save cannot overwrite it.
func (s *Store) SnapshotHistory(day time.Time, doc any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := filepath.Join(historyDir, day.Format("20060102")+"_"+dataFile)
	if _, err := os.Stat(filepath.Join(s.dir, name)); err == nil {
		return nil
	}
	return s.saveLocked(name, doc)
}

// TradeRecord is one CSV row: a fill plus which account it belongs to.
type TradeRecord struct {
	types.TradeData
	AccountType string // "source" or "target"
	AccountID   string
}

// SaveTrades writes the day's fills to trade/trade_YYYYMMDD.csv,
// overwriting any earlier export for the same day.
func (s *Store) SaveTrades(day time.Time, records []TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := day.Format("20060102")
	path := filepath.Join(s.dir, tradeDir, "trade_"+date+".csv")
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create trade file: %w", err)
	}

	w := csv.NewWriter(f)
	header := []string{
		"gateway_name", "symbol", "exchange", "orderid", "tradeid",
		"direction", "offset", "price", "volume", "time", "date",
		"account_type", "account_id",
	}
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write trade header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.GatewayName,
			rec.Symbol,
			rec.Exchange,
			rec.OrderID,
			rec.TradeID,
			string(rec.Direction),
			string(rec.Offset),
			formatFloat(rec.Price),
			formatFloat(rec.Volume),
			rec.Time,
			date,
			rec.AccountType,
			rec.AccountID,
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return fmt.Errorf("write trade row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush trades: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close trade file: %w", err)
	}
	return os.Rename(tmp, path)
}

// AppendAccountInfo appends one balance line per account to
// account_info.csv. Called once per trading day.
func (s *Store) AppendAccountInfo(day time.Time, accounts []types.AccountData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, accountFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open account file: %w", err)
	}
	defer f.Close()

	date := day.Format("20060102")
	for _, account := range accounts {
		line := fmt.Sprintf("%s,%s,%s,%s\n",
			date, account.AccountID, formatFloat(account.Balance), formatFloat(account.Available))
		if _, err := f.WriteString(line); err != nil {
			return fmt.Errorf("append account info: %w", err)
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}
