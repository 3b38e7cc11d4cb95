package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"variantlab/internal/models"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Recordings"

var exportHeader = []interface{}{
	"Filename", "Session ID", "Version", "Start (UTC)", "End (UTC)", "Duration (ms)", "Events",
}

// ExportService renders recording listings as spreadsheets
type ExportService struct {
	query *RecordingQueryService
}

// NewExportService creates an exporter over the query engine
func NewExportService(query *RecordingQueryService) *ExportService {
	return &ExportService{query: query}
}

// ExportXLSX lists recordings for version (all when empty) and returns an .xlsx workbook
func (s *ExportService) ExportXLSX(ctx context.Context, version string) ([]byte, error) {
	recordings, err := s.query.List(ctx, version)
	if err != nil {
		return nil, err
	}
	return BuildRecordingsWorkbook(recordings)
}

// BuildRecordingsWorkbook writes one row per recording, in listing order
func BuildRecordingsWorkbook(recordings []models.RecordingMetadata) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, m := range recordings {
		end := ""
		if m.EndTime != nil {
			end = formatMillis(*m.EndTime)
		}
		row := []interface{}{
			m.Filename, m.SessionID, m.Version, formatMillis(m.StartTime), end, m.Duration, m.EventCount,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	return bytes.Clone(buf.Bytes()), nil
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
