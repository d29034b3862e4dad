package scanner

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stockterm/terminalapi/internal/repository"
	"github.com/stockterm/terminalapi/internal/stream"
	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

// CandleProvider supplies per-symbol daily candle histories for one market
type CandleProvider interface {
	LoadData() (map[string][]models.Candle, error)
	Refresh(ctx context.Context) error
}

// MetadataProvider supplies the per-symbol property table for one market
type MetadataProvider interface {
	MetadataTable(symbols []string) (map[string]map[string]interface{}, error)
	Refresh(ctx context.Context) error
}

// FileCandleProvider caches candle histories in a gob file under the base
// path and refreshes them over the chart session protocol.
type FileCandleProvider struct {
	market     string
	basePath   string
	symbolRepo *repository.SymbolRepository
	downloader *stream.CandleDownloader
}

// NewFileCandleProvider creates a provider for the given market
func NewFileCandleProvider(market, basePath string, symbolRepo *repository.SymbolRepository) *FileCandleProvider {
	return &FileCandleProvider{
		market:     market,
		basePath:   basePath,
		symbolRepo: symbolRepo,
		downloader: stream.NewCandleDownloader(),
	}
}

func (p *FileCandleProvider) cachePath() string {
	return filepath.Join(p.basePath, fmt.Sprintf("ohlcv_%s.gob", p.market))
}

// LoadData reads the cached candle map. A missing cache file yields an
// empty map; callers refresh explicitly.
func (p *FileCandleProvider) LoadData() (map[string][]models.Candle, error) {
	f, err := os.Open(p.cachePath())
	if os.IsNotExist(err) {
		zaplogger.Warn("Candle cache not found", zaplogger.Fields{"path": p.cachePath()})
		return map[string][]models.Candle{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open candle cache: %w", err)
	}
	defer f.Close()

	var data map[string][]models.Candle
	if err := gob.NewDecoder(f).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode candle cache: %w", err)
	}
	return data, nil
}

// Refresh downloads candles for every ticker in the market and rewrites
// the cache file.
func (p *FileCandleProvider) Refresh(ctx context.Context) error {
	symbols, err := p.symbolRepo.FetchAll(p.market)
	if err != nil {
		return fmt.Errorf("failed to list tickers for %s: %w", p.market, err)
	}
	tickers := make([]string, 0, len(symbols))
	for _, s := range symbols {
		tickers = append(tickers, s.Ticker)
	}

	candles, err := p.downloader.Download(ctx, tickers)
	if err != nil {
		return err
	}
	if err := p.save(candles); err != nil {
		return err
	}
	zaplogger.Info("Candle cache refreshed", zaplogger.Fields{"market": p.market, "symbols": len(candles)})
	return nil
}

func (p *FileCandleProvider) save(data map[string][]models.Candle) error {
	tmp := p.cachePath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create candle cache: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode candle cache: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, p.cachePath())
}

// DBMetadataProvider reads symbol properties from the feature table
type DBMetadataProvider struct {
	market     string
	symbolRepo *repository.SymbolRepository
}

// NewDBMetadataProvider creates a provider for the given market
func NewDBMetadataProvider(market string, symbolRepo *repository.SymbolRepository) *DBMetadataProvider {
	return &DBMetadataProvider{market: market, symbolRepo: symbolRepo}
}

// MetadataTable returns symbol -> property map for the requested symbols.
// A nil symbol list returns the whole market.
func (p *DBMetadataProvider) MetadataTable(symbols []string) (map[string]map[string]interface{}, error) {
	rows, err := p.symbolRepo.FetchAll(p.market)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	table := make(map[string]map[string]interface{}, len(rows))
	for i := range rows {
		if len(symbols) > 0 && !wanted[rows[i].Ticker] {
			continue
		}
		table[rows[i].Ticker] = rows[i].Properties()
	}
	return table, nil
}

// Refresh is a no-op: the feature table is maintained by the refresh cron
func (p *DBMetadataProvider) Refresh(ctx context.Context) error {
	return nil
}
