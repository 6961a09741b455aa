package s3fetch

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DownloaderConfig configures the S3 Download Manager.
type DownloaderConfig struct {
	// Concurrency is the number of concurrent download parts.
	// Default: clamp(NumCPU, 2, 8).
	Concurrency int

	// PartSize is the size of each download part in bytes.
	// Default: 8MB. Table files rarely exceed a few parts.
	PartSize int64
}

// DefaultDownloaderConfig returns defaults based on the current machine.
func DefaultDownloaderConfig() DownloaderConfig {
	concurrency := runtime.NumCPU()
	if concurrency < 2 {
		concurrency = 2
	}
	if concurrency > 8 {
		concurrency = 8
	}
	return DownloaderConfig{
		Concurrency: concurrency,
		PartSize:    8 * 1024 * 1024,
	}
}

// Downloader wraps the AWS S3 Download Manager.
type Downloader struct {
	manager *manager.Downloader
	config  DownloaderConfig
}

// NewDownloader creates a Downloader from an existing S3 client. Zero
// config fields take their defaults.
func NewDownloader(s3Client *s3.Client, cfg DownloaderConfig) *Downloader {
	def := DefaultDownloaderConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = def.PartSize
	}

	mgr := manager.NewDownloader(s3Client, func(d *manager.Downloader) {
		d.Concurrency = cfg.Concurrency
		d.PartSize = cfg.PartSize
	})
	return &Downloader{manager: mgr, config: cfg}
}

// DownloadResult contains information about a completed download.
type DownloadResult struct {
	BytesDownloaded int64
	Duration        time.Duration
}

// DownloadTemp downloads an object to a new temporary file in dir and
// returns its path. The file is removed again if the download fails.
func (d *Downloader) DownloadTemp(ctx context.Context, bucket, key, dir string) (string, *DownloadResult, error) {
	start := time.Now()

	f, err := os.CreateTemp(dir, "dbc-*.tmp")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()

	n, err := d.manager.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close temp file: %w", cerr)
	}
	if err != nil {
		os.Remove(path)
		return "", nil, fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}

	return path, &DownloadResult{
		BytesDownloaded: n,
		Duration:        time.Since(start),
	}, nil
}

// Config returns the downloader configuration.
func (d *Downloader) Config() DownloaderConfig {
	return d.config
}
