package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/room-climate-charts/internal/models"
)

// csvHeader is the reserved first row of the store file.
var csvHeader = []string{"timestamp", "station_id", "temperature"}

// CSVStore keeps readings in a flat CSV file. The first row is the header;
// every following row is timestamp (RFC3339, UTC), station ID, temperature.
type CSVStore struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewCSVStore opens the store at path, creating the file and its parent
// directory with a header row when it does not exist yet.
func NewCSVStore(path string, logger *zap.Logger) (*CSVStore, error) {
	if path == "" {
		return nil, errors.New("csv store path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat store: %w", err)
	}
	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(csvHeader); err != nil {
			return nil, fmt.Errorf("write store header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("write store header: %w", err)
		}
	}
	return &CSVStore{path: path, logger: logger}, nil
}

// Append implements ReadingStore. All present readings are written in one
// flush at the end of the file.
func (s *CSVStore) Append(ctx context.Context, stationID string, readings []models.HourlyTemperature) error {
	rows := present(readings)
	if len(rows) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open store for append: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, r := range rows {
		rec := []string{
			r.Timestamp.Format(time.RFC3339),
			stationID,
			strconv.FormatFloat(r.Temperature, 'f', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("append reading: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("append readings: %w", err)
	}
	return f.Sync()
}

// Query implements ReadingStore by scanning the whole file. Rows that cannot
// be parsed are skipped and logged at debug level.
func (s *CSVStore) Query(ctx context.Context, stationID string, start, end time.Time) (map[time.Time]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	out := make(map[time.Time]float64)
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				s.logger.Debug("skipping malformed store row", zap.Int("line", line), zap.Error(err))
				continue
			}
			return nil, fmt.Errorf("read store: %w", err)
		}
		if line == 1 {
			continue
		}
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(rec) < 3 || rec[1] != stationID {
			continue
		}
		ts, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			s.logger.Debug("skipping store row with bad timestamp", zap.Int("line", line), zap.String("value", rec[0]))
			continue
		}
		if !inRange(ts, start, end) {
			continue
		}
		v, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			s.logger.Debug("skipping store row with bad temperature", zap.Int("line", line), zap.String("value", rec[2]))
			continue
		}
		key := models.HourKey(ts)
		if _, seen := out[key]; !seen {
			out[key] = v
		}
	}
	return out, nil
}
