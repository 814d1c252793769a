package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/token-engine/internal/market"
)

// Journal is a durable append-only CSV audit trail of executed trades.
// Writes are buffered and flushed periodically; Close flushes the remainder.
type Journal struct {
	mu     sync.Mutex
	writer *csv.Writer
	file   *os.File
	ticker *time.Ticker
	done   chan struct{}
	logger *zap.Logger

	writtenRecords uint64
}

var journalHeaders = []string{
	"id", "token_id", "account_id", "direction",
	"input_amount", "output_amount", "price", "fee",
	"settlement_ref", "supply_after", "timestamp",
}

// NewJournal opens (or creates) a journal file under dir and starts the
// periodic flusher.
func NewJournal(dir string, flushInterval time.Duration, logger *zap.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("trades_%s.csv", time.Now().Format("20060102_150405")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	j := &Journal{
		writer: csv.NewWriter(file),
		file:   file,
		ticker: time.NewTicker(flushInterval),
		done:   make(chan struct{}),
		logger: logger.Named("trade_journal"),
	}
	if err := j.writer.Write(journalHeaders); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to write journal headers: %w", err)
	}

	go j.periodicFlush()

	j.logger.Info("Trade journal opened", zap.String("path", path))
	return j, nil
}

// Record appends one trade to the journal.
func (j *Journal) Record(trade market.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	record := []string{
		trade.ID,
		trade.TokenID,
		trade.AccountID,
		string(trade.Direction),
		trade.InputAmount.String(),
		trade.OutputAmount.String(),
		trade.Price.String(),
		trade.Fee.String(),
		trade.SettlementRef,
		trade.SupplyAfter.String(),
		trade.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if err := j.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write trade record: %w", err)
	}
	j.writtenRecords++
	return nil
}

func (j *Journal) periodicFlush() {
	for {
		select {
		case <-j.ticker.C:
			j.mu.Lock()
			j.writer.Flush()
			j.mu.Unlock()
		case <-j.done:
			return
		}
	}
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	j.ticker.Stop()
	close(j.done)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.writer.Flush()
	if err := j.writer.Error(); err != nil {
		j.logger.Error("Journal flush failed", zap.Error(err))
	}
	j.logger.Info("Trade journal closed", zap.Uint64("records", j.writtenRecords))
	return j.file.Close()
}
