// Package drive downloads uploaded self-introduction files from Google Drive.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/hyperjump/nakama/internal/config"
)

// Google Workspace documents have no binary content and are exported as text.
const (
	mimeTypeGoogleDoc = "application/vnd.google-apps.document"
	mimeTypeFolder    = "application/vnd.google-apps.folder"
	exportMimeText    = "text/plain"
)

// MaxFileSize caps a single download.
const MaxFileSize = 32 << 20

var (
	// ErrNotFound is returned when the file does not exist or is not shared with the service account.
	ErrNotFound = errors.New("drive file not found")
	// ErrNotAFile is returned for folders and other entries without content.
	ErrNotAFile = errors.New("drive entry is not a file")
	// ErrTooLarge is returned when a file exceeds MaxFileSize.
	ErrTooLarge = errors.New("drive file too large")
)

// Fetcher downloads files through the Drive v3 API, throttled by a token bucket.
type Fetcher struct {
	service *drive.Service
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithRateLimit allows rps sustained API calls per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(f *Fetcher) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewFetcher creates a Fetcher from the Drive settings, authenticating with the
// configured service account credentials file.
func NewFetcher(ctx context.Context, cfg config.DriveConfig, opts ...Option) (*Fetcher, error) {
	if cfg.CredentialsFile == "" {
		return nil, errors.New("drive credentials file is not configured")
	}
	opts = append([]Option{WithRateLimit(cfg.RequestsPerSecond, cfg.Burst)}, opts...)
	return NewFetcherWithClientOptions(ctx, []option.ClientOption{
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(drive.DriveReadonlyScope),
	}, opts...)
}

// NewFetcherWithClientOptions creates a Fetcher with explicit API client options.
func NewFetcherWithClientOptions(ctx context.Context, clientOpts []option.ClientOption, opts ...Option) (*Fetcher, error) {
	svc, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	f := &Fetcher{
		service: svc,
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Download returns the file's name and content. Google Docs are exported as plain text
// and their name gains a .txt suffix.
func (f *Fetcher) Download(ctx context.Context, fileID string) (string, []byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", nil, err
	}
	meta, err := f.service.Files.Get(fileID).
		Fields("id", "name", "mimeType", "size").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", nil, wrapAPIError(fileID, err)
	}
	if meta.MimeType == mimeTypeFolder {
		return "", nil, fmt.Errorf("%w: %s", ErrNotAFile, fileID)
	}
	if meta.Size > MaxFileSize {
		return "", nil, fmt.Errorf("%w: %s (%d bytes)", ErrTooLarge, meta.Name, meta.Size)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return "", nil, err
	}
	name := meta.Name
	var resp *http.Response
	if meta.MimeType == mimeTypeGoogleDoc {
		name += ".txt"
		resp, err = f.service.Files.Export(fileID, exportMimeText).Context(ctx).Download()
	} else {
		resp, err = f.service.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	}
	if err != nil {
		return "", nil, wrapAPIError(fileID, err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(io.LimitReader(resp.Body, MaxFileSize+1))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read drive file %s: %w", fileID, err)
	}
	if len(content) > MaxFileSize {
		return "", nil, fmt.Errorf("%w: %s", ErrTooLarge, name)
	}
	f.logger.Debug("downloaded drive file",
		zap.String("file_id", fileID),
		zap.String("name", name),
		zap.Int("bytes", len(content)))
	return name, content, nil
}

func wrapAPIError(fileID string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, fileID)
	}
	return fmt.Errorf("drive request for %s failed: %w", fileID, err)
}
