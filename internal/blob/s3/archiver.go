package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantavo/poolpilot/internal/domain"
)

// runSnapshot is the archived record of one finished strategy run.
type runSnapshot struct {
	Instance   domain.StrategyInstance `json:"instance"`
	StopReason string                  `json:"stop_reason"`
	ArchivedAt time.Time               `json:"archived_at"`
}

// RunArchiver implements domain.Archiver by uploading a JSON snapshot of each
// deactivated instance to blob storage. Snapshots are write-once history; the
// primary store keeps the live record.
type RunArchiver struct {
	writer domain.BlobWriter
	now    func() time.Time
}

// NewRunArchiver creates a RunArchiver writing through the given blob writer.
func NewRunArchiver(writer domain.BlobWriter) *RunArchiver {
	return &RunArchiver{
		writer: writer,
		now:    time.Now,
	}
}

// ArchiveRun uploads the instance snapshot to
// runs/{instanceID}/{timestamp}.json.
func (a *RunArchiver) ArchiveRun(ctx context.Context, inst domain.StrategyInstance, reason string) error {
	snap := runSnapshot{
		Instance:   inst,
		StopReason: reason,
		ArchivedAt: a.now().UTC(),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("s3blob: marshal run snapshot %s: %w", inst.ID, err)
	}

	path := runPath(inst.ID, snap.ArchivedAt)
	if err := a.writer.Put(ctx, path, &buf, "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive run %s: %w", inst.ID, err)
	}
	return nil
}

// runPath builds the object key for one run snapshot.
//
//	runs/6f1b.../20260831T120000Z.json
func runPath(instanceID string, at time.Time) string {
	return fmt.Sprintf("runs/%s/%s.json", instanceID, at.Format("20060102T150405Z"))
}

var _ domain.Archiver = (*RunArchiver)(nil)
