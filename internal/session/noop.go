// Package session holds session providers that do not need a browser.
package session

import (
	"context"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/verify"
)

// Noop is a SessionProvider that is always ready and never confirms a
// number, so every identifier falls through to the fallback probe.
type Noop struct{}

// NewNoop creates a new Noop session.
func NewNoop() *Noop {
	return &Noop{}
}

// Ready always reports true.
func (Noop) Ready() bool { return true }

// LoginArtifact returns an empty artifact; there is nothing to scan.
func (Noop) LoginArtifact() string { return "" }

// Lookup reports not found without error.
func (Noop) Lookup(context.Context, verify.Identifier) (bool, error) {
	return false, nil
}

var _ verify.SessionProvider = Noop{}
