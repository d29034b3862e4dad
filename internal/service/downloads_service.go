package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

// DownloadService pulls the externally maintained ingestion payloads
// (fundamentals, analyst research, compliance list) from the feed base URL
// and stages them on disk for the offline feature-table build.
type DownloadService struct {
	client   *resty.Client
	baseURL  string
	basePath string
}

// NewDownloadService creates a service rooted at the configured feed URL
func NewDownloadService(baseURL, basePath string) *DownloadService {
	return &DownloadService{
		client:   resty.New().SetTimeout(5 * time.Minute),
		baseURL:  baseURL,
		basePath: basePath,
	}
}

// DownloadFundamentals stages the quarterly/yearly fundamentals payload
func (s *DownloadService) DownloadFundamentals(ctx context.Context) error {
	return s.download(ctx, "/fundamental.json", "fundamental.json")
}

// DownloadResearch stages the analyst research payload
func (s *DownloadService) DownloadResearch(ctx context.Context) error {
	return s.download(ctx, "/research.json", "research.json")
}

// DownloadCompliance stages the shariah compliance list
func (s *DownloadService) DownloadCompliance(ctx context.Context) error {
	return s.download(ctx, "/compliance.json", "compliance.json")
}

func (s *DownloadService) download(ctx context.Context, path, filename string) error {
	if s.baseURL == "" {
		return fmt.Errorf("env variable STOCK_FUNDAMENTAL_BASE_URL is required but not set")
	}

	resp, err := s.client.R().SetContext(ctx).Get(s.baseURL + path)
	if err != nil {
		return fmt.Errorf("download %s failed: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("download %s failed: status %d", path, resp.StatusCode())
	}

	target := filepath.Join(s.basePath, filename)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, resp.Body(), 0o644); err != nil {
		return fmt.Errorf("failed to stage %s: %w", filename, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return err
	}
	zaplogger.Info("Download staged", zaplogger.Fields{"file": target, "bytes": len(resp.Body())})
	return nil
}
