package inventory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gridflow/silogrid/internal/ports/output"
)

func openTestInventory(t *testing.T) *SQLite {
	t.Helper()
	inv, err := Open(filepath.Join(t.TempDir(), "inventory.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = inv.Close() })
	return inv
}

func entry(variable, date, path string) output.CacheEntry {
	return output.CacheEntry{
		Variable:  variable,
		Date:      date,
		Path:      path,
		Size:      1024,
		Clipped:   true,
		WrittenAt: time.Date(2023, time.January, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestRecordAndCount(t *testing.T) {
	inv := openTestInventory(t)
	ctx := context.Background()

	for _, e := range []output.CacheEntry{
		entry("daily_rain", "20230101", "/cache/daily_rain/2023/20230101.daily_rain.tif"),
		entry("daily_rain", "20230102", "/cache/daily_rain/2023/20230102.daily_rain.tif"),
		entry("max_temp", "20230101", "/cache/max_temp/2023/20230101.max_temp.tif"),
	} {
		if err := inv.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	counts, err := inv.CountByVariable(ctx)
	if err != nil {
		t.Fatalf("CountByVariable: %v", err)
	}
	if counts["daily_rain"] != 2 || counts["max_temp"] != 1 {
		t.Errorf("counts = %v, want daily_rain:2 max_temp:1", counts)
	}
}

func TestRecordReplacesExisting(t *testing.T) {
	inv := openTestInventory(t)
	ctx := context.Background()
	path := "/cache/daily_rain/2023/20230101.daily_rain.tif"

	if err := inv.Record(ctx, entry("daily_rain", "20230101", path)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	// Re-recording the same path must not create a second row.
	if err := inv.Record(ctx, entry("daily_rain", "20230101", path)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	counts, err := inv.CountByVariable(ctx)
	if err != nil {
		t.Fatalf("CountByVariable: %v", err)
	}
	if counts["daily_rain"] != 1 {
		t.Errorf("counts = %v, want daily_rain:1", counts)
	}
}

func TestRemove(t *testing.T) {
	inv := openTestInventory(t)
	ctx := context.Background()
	path := "/cache/daily_rain/2023/20230101.daily_rain.tif"

	if err := inv.Record(ctx, entry("daily_rain", "20230101", path)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := inv.Remove(ctx, path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	// Removing an unknown path is not an error.
	if err := inv.Remove(ctx, "/cache/never/recorded.tif"); err != nil {
		t.Fatalf("Remove unknown: %v", err)
	}

	counts, err := inv.CountByVariable(ctx)
	if err != nil {
		t.Fatalf("CountByVariable: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("counts = %v, want empty", counts)
	}
}
