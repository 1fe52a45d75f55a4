// Package audit maintains an append-only trail of decision-engine and
// escalation outcomes, independent of the Event log in the store (the
// Event log is queryable state; this is a flat, tamper-evident JSONL
// sink intended for off-box shipping).
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentcore/orchestrator/internal/shared"
)

type entry struct {
	Timestamp     string `json:"timestamp"`
	Outcome       string `json:"outcome"`
	Action        string `json:"action"`
	Reason        string `json:"reason"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Subject       string `json:"subject,omitempty"`
}

var (
	mu        sync.Mutex
	file      *os.File
	denyCount atomic.Int64
)

// Init opens the audit sink under homeDir/logs/audit.jsonl. Safe to call
// more than once; subsequent calls are no-ops.
func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// DenyCount returns the total number of "vetoed"/"rejected" outcomes recorded since startup.
func DenyCount() int64 {
	return denyCount.Load()
}

// Record appends one audit entry. outcome is typically one of
// "approved", "vetoed", "rejected", "escalated", "timeout"; action names
// the thing that happened (e.g. "decision_resolved", "escalation_notified").
func Record(outcome, action, reason, correlationID, subject string) {
	switch outcome {
	case "vetoed", "rejected":
		denyCount.Add(1)
	}

	reason = shared.Redact(reason)
	subject = shared.Redact(subject)

	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return
	}
	ev := entry{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Outcome:       outcome,
		Action:        action,
		Reason:        reason,
		CorrelationID: correlationID,
		Subject:       subject,
	}
	b, err := json.Marshal(ev)
	if err == nil {
		_, _ = file.Write(append(b, '\n'))
	}
}
