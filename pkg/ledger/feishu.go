package ledger

import (
	"context"
	"sync"

	"github.com/httprunner/DevicePool/internal/config"
	"github.com/httprunner/DevicePool/internal/feishusdk"
	"github.com/pkg/errors"
)

// recordWriter is the part of feishusdk.Client the mirror uses.
type recordWriter interface {
	CreateRecord(ctx context.Context, table feishusdk.Table, fields map[string]any) (string, error)
	UpdateRecord(ctx context.Context, table feishusdk.Table, recordID string, fields map[string]any) error
}

// FeishuSink mirrors ledger rows into a bitable so results are visible
// outside the harness machine.
type FeishuSink struct {
	client recordWriter
	table  feishusdk.Table

	mu      sync.Mutex
	records map[string]string // run id -> record id
}

// NewFeishuSinkFromEnv returns nil, nil when the ledger table is not configured.
func NewFeishuSinkFromEnv() (*FeishuSink, error) {
	table := feishusdk.Table{
		AppToken: config.String(config.EnvLedgerAppToken, ""),
		TableID:  config.String(config.EnvLedgerTableID, ""),
	}
	if table.AppToken == "" || table.TableID == "" {
		return nil, nil
	}
	client, err := feishusdk.NewClientFromEnv()
	if err != nil {
		return nil, err
	}
	return newFeishuSink(client, table), nil
}

func newFeishuSink(client recordWriter, table feishusdk.Table) *FeishuSink {
	return &FeishuSink{client: client, table: table, records: make(map[string]string)}
}

func (f *FeishuSink) Name() string { return "feishu" }

func (f *FeishuSink) Create(ctx context.Context, run *TestRun) error {
	recordID, err := f.client.CreateRecord(ctx, f.table, runFields(run))
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.records[run.ID] = recordID
	f.mu.Unlock()
	return nil
}

func (f *FeishuSink) Update(ctx context.Context, run *TestRun) error {
	f.mu.Lock()
	recordID, ok := f.records[run.ID]
	f.mu.Unlock()
	if !ok {
		return errors.Errorf("ledger: no feishu record for run %s", run.ID)
	}
	fields := map[string]any{
		"Status":  run.Status,
		"Remarks": run.Remarks,
	}
	if run.EndTime != nil {
		fields["EndTime"] = run.EndTime.UnixMilli()
	}
	if err := f.client.UpdateRecord(ctx, f.table, recordID, fields); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.records, run.ID)
	f.mu.Unlock()
	return nil
}

func (f *FeishuSink) Close() error { return nil }

func runFields(run *TestRun) map[string]any {
	return map[string]any{
		"RunID":      run.ID,
		"TestSetID":  run.TestSetID,
		"DeviceID":   run.DeviceID,
		"DeviceName": run.DeviceName,
		"SessionID":  run.SessionID,
		"Script":     run.Script,
		"Status":     run.Status,
		"Machine":    run.Machine,
		"HostUUID":   run.HostUUID,
		"StartTime":  run.StartTime.UnixMilli(),
	}
}
