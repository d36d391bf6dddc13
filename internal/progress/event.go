// Package progress defines the event structures emitted during verification runs.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/verify"
)

// Kind denotes the type of notification represented by an Event. The values
// are also the event names on the push channel.
type Kind string

// Supported event kinds.
const (
	KindArtifact Kind = "qr"
	KindReady    Kind = "ready"
	KindUnready  Kind = "unready"
	KindStatus   Kind = "status"
	KindProgress Kind = "progress"
	KindDone     Kind = "done"
)

// ItemResult is the per-identifier verdict carried by progress events.
type ItemResult string

// Supported item results.
const (
	ItemMatch   ItemResult = "ok"
	ItemNoMatch ItemResult = "no"
	ItemError   ItemResult = "error"
)

// Item describes the verdict for one identifier.
type Item struct {
	Result     ItemResult
	Identifier verify.Identifier
	Via        verify.Tier
	Reason     string
}

// Event captures a single notification about the session or the current run.
type Event struct {
	// Kind selects which of the optional payload fields is populated.
	Kind Kind
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Snapshot is set for KindStatus.
	Snapshot *verify.Snapshot
	// Item is set for KindProgress.
	Item *Item
	// Artifact is the login QR data URL for KindArtifact.
	Artifact string
	// ReportID names the persisted report for KindDone; empty when persisting failed.
	ReportID string
	// Reason explains a KindUnready transition.
	Reason string
	// Dur is the run wall time for KindDone.
	Dur time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindReady, KindUnready, KindDone:
	case KindArtifact:
		if e.Artifact == "" {
			return errors.New("artifact event requires artifact")
		}
	case KindStatus:
		if e.Snapshot == nil {
			return errors.New("status event requires snapshot")
		}
	case KindProgress:
		if e.Item == nil {
			return errors.New("progress event requires item")
		}
		if e.Item.Identifier == "" {
			return errors.New("progress event requires identifier")
		}
		switch e.Item.Result {
		case ItemMatch, ItemNoMatch, ItemError:
		default:
			return fmt.Errorf("unknown item result %q", e.Item.Result)
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Payload returns the JSON-serializable body sent to push subscribers.
func (e Event) Payload() any {
	switch e.Kind {
	case KindArtifact:
		return map[string]string{"dataUrl": e.Artifact}
	case KindUnready:
		return map[string]string{"reason": e.Reason}
	case KindStatus:
		return e.Snapshot
	case KindProgress:
		payload := map[string]string{
			"type":   string(e.Item.Result),
			"digits": string(e.Item.Identifier),
		}
		if e.Item.Via != "" {
			payload["via"] = string(e.Item.Via)
		}
		if e.Item.Reason != "" {
			payload["reason"] = e.Item.Reason
		}
		return payload
	case KindDone:
		var report *string
		if e.ReportID != "" {
			report = &e.ReportID
		}
		return map[string]*string{"reportFile": report}
	default:
		return map[string]string{}
	}
}

// StatusEvent wraps a snapshot.
func StatusEvent(ts time.Time, snap verify.Snapshot) Event {
	return Event{Kind: KindStatus, TS: ts, Snapshot: &snap}
}

// ProgressEvent wraps an item verdict.
func ProgressEvent(ts time.Time, item Item) Event {
	return Event{Kind: KindProgress, TS: ts, Item: &item}
}
