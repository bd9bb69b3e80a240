// Package source reads raw indoor sensor rows from tabular exports.
package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/room-climate-charts/internal/models"
)

// Header substrings used to locate the value columns. The first column whose
// header contains any of the keys wins.
var (
	TemperatureKeys = []string{"temperature", "温度"}
	HumidityKeys    = []string{"humidity", "湿度"}
)

// Columns holds the zero-based positions of the sheet columns.
type Columns struct {
	Timestamp   int
	Temperature int
	Humidity    int
}

// LocateColumns finds the value columns in header. The timestamp is always the
// first column. A missing value column is models.ErrNotFound.
func LocateColumns(header []string) (Columns, error) {
	cols := Columns{Timestamp: 0, Temperature: -1, Humidity: -1}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		if cols.Temperature < 0 && containsAny(h, TemperatureKeys) {
			cols.Temperature = i
		}
		if cols.Humidity < 0 && containsAny(h, HumidityKeys) {
			cols.Humidity = i
		}
	}
	if cols.Temperature < 0 {
		return cols, fmt.Errorf("%w: no temperature column", models.ErrNotFound)
	}
	if cols.Humidity < 0 {
		return cols, fmt.Errorf("%w: no humidity column", models.ErrNotFound)
	}
	return cols, nil
}

func containsAny(s string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// CSVSheet reads sensor exports from CSV files with a header row.
type CSVSheet struct {
	location *time.Location
	logger   *zap.Logger
}

// NewCSVSheet returns a reader that interprets zone-less timestamps in loc.
func NewCSVSheet(loc *time.Location, logger *zap.Logger) *CSVSheet {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVSheet{location: loc, logger: logger}
}

// ReadRows reads all rows of the file at path in file order.
func (s *CSVSheet) ReadRows(ctx context.Context, path string) ([]models.SensorRow, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: sheet %s", models.ErrNotFound, path)
		}
		return nil, fmt.Errorf("open sheet: %w", err)
	}
	defer f.Close()
	return s.Read(ctx, f)
}

// Read parses a sheet from r. Rows with an unparsable timestamp or value are
// skipped.
func (s *CSVSheet) Read(ctx context.Context, r io.Reader) ([]models.SensorRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: sheet has no header row", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read sheet header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	cols, err := LocateColumns(header)
	if err != nil {
		return nil, err
	}

	var rows []models.SensorRow
	skipped := 0
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				skipped++
				continue
			}
			return nil, fmt.Errorf("read sheet: %w", err)
		}
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		row, ok := s.parseRow(rec, cols)
		if !ok {
			skipped++
			continue
		}
		rows = append(rows, row)
	}

	if skipped > 0 {
		s.logger.Debug("skipped unparsable sheet rows", zap.Int("skipped", skipped), zap.Int("rows", len(rows)))
	}
	return rows, nil
}

func (s *CSVSheet) parseRow(rec []string, cols Columns) (models.SensorRow, bool) {
	if len(rec) <= cols.Temperature || len(rec) <= cols.Humidity || len(rec) == 0 {
		return models.SensorRow{}, false
	}
	ts, err := ParseTimestamp(rec[cols.Timestamp], s.location)
	if err != nil {
		return models.SensorRow{}, false
	}
	temp, err := strconv.ParseFloat(strings.TrimSpace(rec[cols.Temperature]), 64)
	if err != nil {
		return models.SensorRow{}, false
	}
	hum, err := strconv.ParseFloat(strings.TrimSpace(rec[cols.Humidity]), 64)
	if err != nil {
		return models.SensorRow{}, false
	}
	return models.SensorRow{Timestamp: ts, Temperature: temp, Humidity: hum}, true
}
