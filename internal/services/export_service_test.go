package services

import (
	"bytes"
	"context"
	"testing"

	"variantlab/internal/config"

	"github.com/xuri/excelize/v2"
)

func TestExportXLSX(t *testing.T) {
	ctx := context.Background()
	backend := NewFileRecordingBackend(t.TempDir())
	store := NewRecordingService(backend, nil)

	finished := newRecording("A", "s1", 1000, 2)
	finished.EndTime = int64Ptr(3000)
	if _, err := store.Upsert(ctx, finished); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Upsert(ctx, newRecording("A", "s2", 5000, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Upsert(ctx, newRecording("B", "s3", 9000, 1)); err != nil {
		t.Fatal(err)
	}

	exporter := NewExportService(NewRecordingQueryService(backend, config.LookupExact))
	data, err := exporter.ExportXLSX(ctx, "A")
	if err != nil {
		t.Fatalf("ExportXLSX failed: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "Filename" {
		t.Errorf("Unexpected header %v", rows[0])
	}
	if rows[1][1] != "s2" || rows[2][1] != "s1" {
		t.Errorf("Expected newest first, got %v / %v", rows[1], rows[2])
	}
	if rows[2][5] != "2000" || rows[2][4] != "1970-01-01T00:00:03Z" {
		t.Errorf("Unexpected derived columns %v", rows[2])
	}
}
