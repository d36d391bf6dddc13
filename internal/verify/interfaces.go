package verify

import (
	"context"
	"io"
	"time"
)

// SessionProvider is the authoritative (Tier 1) lookup source backed by an
// authenticated messaging session.
type SessionProvider interface {
	// Ready reports whether the session is authenticated and usable.
	Ready() bool
	// LoginArtifact returns the last known login artifact (a QR data URL), or
	// "" when none is pending.
	LoginArtifact() string
	// Lookup reports whether id has an account on the platform.
	Lookup(ctx context.Context, id Identifier) (bool, error)
}

// Prober is the heuristic (Tier 2) lookup source.
type Prober interface {
	Probe(ctx context.Context, id Identifier, captureDiagnostic bool) LookupResult
}

// ReportSink persists the final report of a run and returns its name.
type ReportSink interface {
	Persist(ctx context.Context, report Report) (string, error)
}

// DiagnosticStore keeps raw fallback responses for offline review.
type DiagnosticStore interface {
	Save(ctx context.Context, id Identifier, body []byte) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RunRecorder keeps a queryable history of finished runs.
type RunRecorder interface {
	SaveReport(ctx context.Context, uri string, report Report) error
}

// Publisher pushes run completion notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces report tokens.
type IDGenerator interface {
	NewID() (string, error)
}
