package importexport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/flowdesk/syncd/internal/syncdoc"
	"github.com/flowdesk/syncd/pkg/clock"
)

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(afero.NewMemMapFs(), "/export", "device-a", ArchiveOptions{}, nil, nil, nil, clk)
}

func TestTransport_IsAvailableAlwaysTrue(t *testing.T) {
	tr := newTestTransport(t)
	if !tr.IsAvailable(context.Background()) {
		t.Error("import/export transport should always be available")
	}
}

func TestTransport_Push_WritesArchiveFile(t *testing.T) {
	ctx := context.Background()
	tr := newTestTransport(t)
	if err := tr.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	cfg, err := syncdoc.New(json.RawMessage(`{"theme":"dark"}`), "device-a", time.Now())
	if err != nil {
		t.Fatalf("syncdoc.New: %v", err)
	}
	if err := tr.Push(ctx, cfg); err != nil {
		t.Fatalf("Push: %v", err)
	}

	list, err := tr.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 archive, got %d", len(list))
	}
}

func TestTransport_Pull_AlwaysNil(t *testing.T) {
	ctx := context.Background()
	tr := newTestTransport(t)
	if err := tr.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	cfg, err := syncdoc.New(json.RawMessage(`{"x":1}`), "device-a", time.Now())
	if err != nil {
		t.Fatalf("syncdoc.New: %v", err)
	}
	if err := tr.Push(ctx, cfg); err != nil {
		t.Fatalf("Push: %v", err)
	}

	pulled, err := tr.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if pulled != nil {
		t.Error("expected Pull to always return nil for the import/export transport")
	}
}

func TestTransport_Delete_RemovesArchive(t *testing.T) {
	ctx := context.Background()
	tr := newTestTransport(t)
	if err := tr.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	cfg, err := syncdoc.New(json.RawMessage(`{"x":1}`), "device-a", time.Now())
	if err != nil {
		t.Fatalf("syncdoc.New: %v", err)
	}
	if err := tr.Push(ctx, cfg); err != nil {
		t.Fatalf("Push: %v", err)
	}

	list, err := tr.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 archive before delete, got %d", len(list))
	}

	if err := tr.Delete(ctx, list[0].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	list, err = tr.List(ctx)
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected 0 archives after delete, got %d", len(list))
	}
}

func TestTransport_Status_ReportsExportFileCount(t *testing.T) {
	ctx := context.Background()
	tr := newTestTransport(t)
	if err := tr.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	cfg, err := syncdoc.New(json.RawMessage(`{"x":1}`), "device-a", time.Now())
	if err != nil {
		t.Fatalf("syncdoc.New: %v", err)
	}
	if err := tr.Push(ctx, cfg); err != nil {
		t.Fatalf("Push: %v", err)
	}

	status, err := tr.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Metadata["export_files"] != "1" {
		t.Errorf("expected export_files=1, got %s", status.Metadata["export_files"])
	}
}
