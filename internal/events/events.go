// Package events consumes upload notifications from AMQP and ingests the uploaded files.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/nakama/internal/drive"
	"github.com/hyperjump/nakama/internal/extract"
	"github.com/hyperjump/nakama/internal/fileid"
	"github.com/hyperjump/nakama/internal/ingest"
	"github.com/hyperjump/nakama/internal/llm"
)

// ErrMalformed is returned for notifications without a file ID.
var ErrMalformed = errors.New("malformed upload notification")

// Notification identifies an uploaded file.
type Notification struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
}

// auditLogEntry is the Cloud Audit Log shape emitted for Drive uploads.
type auditLogEntry struct {
	ProtoPayload struct {
		Response struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"response"`
	} `json:"protoPayload"`
}

// ParseNotification accepts either {"file_id","file_name"} or an audit log entry
// carrying protoPayload.response.{id,name}.
func ParseNotification(body []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if n.FileID == "" {
		var entry auditLogEntry
		if err := json.Unmarshal(body, &entry); err == nil {
			n.FileID = entry.ProtoPayload.Response.ID
			n.FileName = entry.ProtoPayload.Response.Name
		}
	}
	n.FileID = strings.TrimSpace(n.FileID)
	if n.FileID == "" {
		return Notification{}, fmt.Errorf("%w: missing file id", ErrMalformed)
	}
	return n, nil
}

// Disposition says how a delivery is settled.
type Disposition int

const (
	// Ack settles a processed or deliberately skipped notification.
	Ack Disposition = iota
	// Requeue returns the notification for another attempt.
	Requeue
	// Reject drops the notification without requeueing.
	Reject
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	default:
		return "reject"
	}
}

// Downloader fetches a file's name and content by ID.
type Downloader interface {
	Download(ctx context.Context, fileID string) (string, []byte, error)
}

// Ingester is the part of the ingestion pipeline the consumer drives.
type Ingester interface {
	Accepts(name string) bool
	IngestBytes(ctx context.Context, source, name string, content []byte) (*ingest.Result, error)
}

// Handler processes one notification body.
type Handler struct {
	downloader Downloader
	ingester   Ingester
	logger     *zap.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates a Handler that downloads with d and ingests with i.
func NewHandler(d Downloader, i Ingester, opts ...HandlerOption) *Handler {
	h := &Handler{downloader: d, ingester: i, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle downloads and ingests the notified file. Notifications for other files are
// acknowledged without a download. Failures that cannot succeed on retry are rejected;
// other failures are requeued once and rejected on redelivery.
func (h *Handler) Handle(ctx context.Context, body []byte, redelivered bool) Disposition {
	n, err := ParseNotification(body)
	if err != nil {
		h.logger.Warn("dropping notification", zap.Error(err))
		return Reject
	}
	if n.FileName != "" && !h.ingester.Accepts(n.FileName) {
		h.logger.Debug("skipping non-target upload", zap.String("file_id", n.FileID), zap.String("name", n.FileName))
		return Ack
	}

	name, content, err := h.downloader.Download(ctx, n.FileID)
	if err != nil {
		return h.failed(n, err, redelivered)
	}
	res, err := h.ingester.IngestBytes(ctx, fileid.ForDrive(n.FileID), name, content)
	if errors.Is(err, ingest.ErrSkipped) {
		h.logger.Debug("skipping non-target upload", zap.String("file_id", n.FileID), zap.String("name", name))
		return Ack
	}
	if err != nil {
		return h.failed(n, err, redelivered)
	}
	h.logger.Info("ingested upload",
		zap.String("file_id", n.FileID),
		zap.String("name", name),
		zap.Int("profiles", len(res.Profiles)))
	return Ack
}

func (h *Handler) failed(n Notification, err error, redelivered bool) Disposition {
	d := Requeue
	if permanent(err) || redelivered {
		d = Reject
	}
	h.logger.Warn("failed to ingest upload",
		zap.String("file_id", n.FileID),
		zap.String("disposition", d.String()),
		zap.Error(err))
	return d
}

func permanent(err error) bool {
	for _, target := range []error{
		drive.ErrNotFound,
		drive.ErrNotAFile,
		drive.ErrTooLarge,
		extract.ErrUnsupported,
		ingest.ErrEmptyDocument,
		ingest.ErrNoProfiles,
		llm.ErrUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
