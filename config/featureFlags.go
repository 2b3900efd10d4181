package config

import (
	"os"
	"strings"
)

// OrphanSweepEnabled turns on the in-process reconciliation sweep of the API server.
// Defaults to on; deployments that run cmd/orphan-requeue on a schedule disable it.
//
// Set via env:
// - ORPHAN_SWEEP_ENABLED=false
func OrphanSweepEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ORPHAN_SWEEP_ENABLED")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// ServerDeadLetterEnabled attaches a dead-letter policy to the diploma subscription when it is created.
// Emulators without dead-letter support can turn it off; the worker still dead-letters on its own budget.
//
// Set via env:
// - PUBSUB_SERVER_DEAD_LETTER=false
func ServerDeadLetterEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("PUBSUB_SERVER_DEAD_LETTER")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
