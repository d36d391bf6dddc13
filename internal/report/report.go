// Package report persists run reports and diagnostic captures to a blob
// store, and optionally records and announces finished runs.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/verify"
)

const (
	defaultPrefix      = "runs"
	reportContentType  = "application/json"
	captureContentType = "text/html; charset=utf-8"
)

// Config controls where reports land and where completion is announced.
type Config struct {
	// Prefix is the directory (or object prefix) holding reports.
	Prefix string
	// Topic receives a Notification per report; empty disables publishing.
	Topic string
}

// Notification is the message published when a report has been written.
type Notification struct {
	ID            string     `json:"id"`
	ReportFile    string     `json:"reportFile"`
	URI           string     `json:"uri"`
	StartedAt     *time.Time `json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt"`
	Total         int        `json:"total"`
	Processed     int        `json:"processed"`
	HasMatchCount int        `json:"hasMatchCount"`
	NoMatchCount  int        `json:"noMatchCount"`
	ErrorsCount   int        `json:"errorsCount"`
}

// Writer implements verify.ReportSink.
type Writer struct {
	blobs     verify.BlobStore
	recorder  verify.RunRecorder
	publisher verify.Publisher
	ids       verify.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// NewWriter constructs a Writer. recorder, publisher and ids may be nil.
func NewWriter(
	blobs verify.BlobStore,
	recorder verify.RunRecorder,
	publisher verify.Publisher,
	ids verify.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Writer {
	cfg.Prefix = cleanPrefix(cfg.Prefix)
	if ids == nil {
		ids = uuidV7{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		blobs:     blobs,
		recorder:  recorder,
		publisher: publisher,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
	}
}

// Persist writes the report as run_<id>.json and returns that file name.
// Only the blob write can fail the call; history and notification errors
// are logged.
func (w *Writer) Persist(ctx context.Context, report verify.Report) (string, error) {
	if w.blobs == nil {
		return "", fmt.Errorf("report blob store is not configured")
	}
	id, err := w.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate report id: %w", err)
	}
	report.ID = id
	name := FileName(id)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	uri, err := w.blobs.PutObject(ctx, path.Join(w.cfg.Prefix, name), reportContentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	w.logger.Info("run report written", zap.String("report_id", id), zap.String("uri", uri))

	if w.recorder != nil {
		if err := w.recorder.SaveReport(ctx, uri, report); err != nil {
			w.logger.Error("record run history failed", zap.String("report_id", id), zap.Error(err))
		}
	}
	if w.publisher != nil && w.cfg.Topic != "" {
		msg := Notification{
			ID:            id,
			ReportFile:    name,
			URI:           uri,
			StartedAt:     report.StartedAt,
			FinishedAt:    report.FinishedAt,
			Total:         report.Total,
			Processed:     report.Processed,
			HasMatchCount: len(report.HasMatch),
			NoMatchCount:  len(report.NoMatch),
			ErrorsCount:   len(report.Errors),
		}
		if _, err := w.publisher.Publish(ctx, w.cfg.Topic, msg); err != nil {
			w.logger.Error("publish run notification failed", zap.String("report_id", id), zap.Error(err))
		}
	}
	return name, nil
}

// FileName returns the report file name for a report id.
func FileName(id string) string {
	return "run_" + id + ".json"
}

// ParseFileName is the inverse of FileName.
func ParseFileName(name string) (string, bool) {
	id, ok := strings.CutPrefix(name, "run_")
	if !ok {
		return "", false
	}
	id, ok = strings.CutSuffix(id, ".json")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Diagnostics implements verify.DiagnosticStore, keeping raw probe bodies
// under <prefix>/snapshots/<digits>.html.
type Diagnostics struct {
	blobs  verify.BlobStore
	prefix string
}

// NewDiagnostics constructs a Diagnostics store sharing the report prefix.
func NewDiagnostics(blobs verify.BlobStore, prefix string) *Diagnostics {
	return &Diagnostics{blobs: blobs, prefix: cleanPrefix(prefix)}
}

// Save writes body for id, replacing an earlier capture of the same number.
func (d *Diagnostics) Save(ctx context.Context, id verify.Identifier, body []byte) error {
	if id == "" {
		return fmt.Errorf("identifier is required")
	}
	p := path.Join(d.prefix, "snapshots", id.String()+".html")
	if _, err := d.blobs.PutObject(ctx, p, captureContentType, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("write diagnostic capture: %w", err)
	}
	return nil
}

func cleanPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return defaultPrefix
	}
	return prefix
}

// uuidV7 issues time-ordered report ids.
type uuidV7 struct{}

func (uuidV7) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

var (
	_ verify.ReportSink      = (*Writer)(nil)
	_ verify.DiagnosticStore = (*Diagnostics)(nil)
)
