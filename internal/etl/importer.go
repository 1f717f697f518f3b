package etl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/redactor/internal/rules"
)

// PatternValidator rejects patterns that cannot be compiled
type PatternValidator interface {
	Validate(raw string) error
}

// Invalidator drops cached rule lists after an import
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Importer loads redaction rules from dataset files in batches
type Importer struct {
	repo        rules.Repository
	validator   PatternValidator
	invalidator Invalidator
	config      *Config
	logger      *zap.Logger
	stats       *ProcessingStats
	mu          sync.RWMutex
}

// NewImporter creates a rule importer. invalidator may be nil.
func NewImporter(repo rules.Repository, validator PatternValidator, invalidator Invalidator, config *Config, logger *zap.Logger) *Importer {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxPatternLen <= 0 {
		config.MaxPatternLen = defaults.MaxPatternLen
	}
	if config.MaxErrors <= 0 {
		config.MaxErrors = defaults.MaxErrors
	}
	if config.ProgressReport <= 0 {
		config.ProgressReport = defaults.ProgressReport
	}
	return &Importer{
		repo:        repo,
		validator:   validator,
		invalidator: invalidator,
		config:      config,
		logger:      logger,
		stats:       &ProcessingStats{StartTime: time.Now()},
	}
}

// ImportFile imports a CSV, JSON lines or Parquet file
func (im *Importer) ImportFile(ctx context.Context, filePath string) (*ImportResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	format := DetectFileFormat(filePath)
	im.logger.Info("Detected file format", zap.String("file", filePath), zap.String("format", string(format)))
	return im.Import(ctx, file, format)
}

// Import reads rules in the given format from r
func (im *Importer) Import(ctx context.Context, r io.Reader, format FileFormat) (*ImportResult, error) {
	im.logger.Info("Starting rule import",
		zap.String("format", string(format)),
		zap.Int("batch_size", im.config.BatchSize),
		zap.Bool("skip_bad", im.config.SkipBad))

	start := time.Now()
	result := &ImportResult{}
	im.resetStats()

	var (
		next func() (*RuleRecord, error)
		err  error
	)
	switch format {
	case FormatCSV:
		next, err = csvRecords(r)
	case FormatJSON:
		next = jsonRecords(r)
	case FormatParquet:
		next, err = parquetRecords(r)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return result, err
	}

	err = im.processBatches(ctx, next, result)
	result.Duration = time.Since(start)
	if result.Inserted > 0 && im.invalidator != nil {
		if ierr := im.invalidator.Invalidate(context.WithoutCancel(ctx)); ierr != nil {
			im.logger.Warn("Failed to invalidate rule cache", zap.Error(ierr))
		}
	}
	if err != nil {
		return result, fmt.Errorf("%s import failed: %w", format, err)
	}

	im.logger.Info("Rule import completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates", result.Duplicates),
		zap.Int64("invalid", result.Invalid),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("database_time", result.DatabaseTime))
	return result, nil
}

// csvRecords maps columns by header name; only pattern is required.
func csvRecords(r io.Reader) (func() (*RuleRecord, error), error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty CSV file")
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	if _, ok := columns["pattern"]; !ok {
		return nil, fmt.Errorf("CSV header has no pattern column")
	}

	field := func(row []string, name string) string {
		if i, ok := columns[name]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}
	return func() (*RuleRecord, error) {
		row, err := reader.Read()
		if err != nil {
			return nil, err
		}
		return &RuleRecord{
			Pattern:      field(row, "pattern"),
			Description:  field(row, "description"),
			AllowedRoles: field(row, "allowed_roles"),
			CreatedBy:    field(row, "created_by"),
		}, nil
	}, nil
}

// jsonRecords decodes a stream of objects, one per line or a JSON array.
func jsonRecords(r io.Reader) func() (*RuleRecord, error) {
	buffered := bufio.NewReader(r)
	decoder := json.NewDecoder(buffered)
	started := false
	array := false
	return func() (*RuleRecord, error) {
		if !started {
			started = true
			first, err := firstByte(buffered)
			if err != nil {
				return nil, err
			}
			if first == '[' {
				if _, err := decoder.Token(); err != nil {
					return nil, err
				}
				array = true
			}
		}
		if array && !decoder.More() {
			return nil, io.EOF
		}
		var rec RuleRecord
		if err := decoder.Decode(&rec); err != nil {
			return nil, err
		}
		return &rec, nil
	}
}

// firstByte peeks at the first non-space byte without consuming it.
func firstByte(r *bufio.Reader) (byte, error) {
	for {
		b, err := r.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			if _, err := r.ReadByte(); err != nil {
				return 0, err
			}
		default:
			return b[0], nil
		}
	}
}

func parquetRecords(r io.Reader) (func() (*RuleRecord, error), error) {
	var (
		input io.ReaderAt
		size  int64
	)
	if f, ok := r.(*os.File); ok {
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat parquet file: %w", err)
		}
		input, size = f, info.Size()
	} else {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet data: %w", err)
		}
		input, size = bytes.NewReader(data), int64(len(data))
	}

	file, err := parquet.OpenFile(input, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet data: %w", err)
	}
	reader := parquet.NewReader(file)
	return func() (*RuleRecord, error) {
		var rec RuleRecord
		if err := reader.Read(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				reader.Close()
			}
			return nil, err
		}
		return &rec, nil
	}, nil
}

// processBatches drains next, inserting valid rules BatchSize at a time
func (im *Importer) processBatches(ctx context.Context, next func() (*RuleRecord, error), result *ImportResult) error {
	batch := make([]*rules.Rule, 0, im.config.BatchSize)
	seen := make(map[string]bool)
	var row int64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			if !im.config.SkipBad || !recoverable(err) {
				return fmt.Errorf("row %d: %w", row, err)
			}
			result.Invalid++
			im.addError(result, fmt.Sprintf("row %d: %v", row, err))
			continue
		}
		result.TotalRecords++
		im.recordRead(result)

		rule, verr := im.toRule(row, rec)
		if verr != nil {
			if !im.config.SkipBad {
				return verr
			}
			result.Invalid++
			im.addError(result, verr.Error())
			continue
		}
		if seen[rule.Pattern] {
			result.Duplicates++
			continue
		}
		seen[rule.Pattern] = true

		batch = append(batch, rule)
		if len(batch) >= im.config.BatchSize {
			if err := im.insertBatch(ctx, batch, result); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		return im.insertBatch(ctx, batch, result)
	}
	return nil
}

// recoverable reports whether the reader can continue past a bad row.
func recoverable(err error) bool {
	var parseErr *csv.ParseError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &parseErr) || errors.As(err, &typeErr)
}

func (im *Importer) insertBatch(ctx context.Context, batch []*rules.Rule, result *ImportResult) error {
	dbStart := time.Now()
	inserted, err := im.repo.BatchInsert(ctx, batch)
	result.DatabaseTime += time.Since(dbStart)
	if inserted != nil {
		result.Inserted += inserted.Inserted
		result.Duplicates += inserted.Duplicates
	}
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	im.logger.Debug("Batch inserted",
		zap.Int("batch_size", len(batch)),
		zap.Int64("inserted", inserted.Inserted),
		zap.Int64("duplicates", inserted.Duplicates))
	return nil
}

// toRule validates a record and converts it into a rule
func (im *Importer) toRule(row int64, rec *RuleRecord) (*rules.Rule, error) {
	pattern := strings.TrimSpace(rec.Pattern)
	if pattern == "" {
		return nil, &ValidationError{Row: row, Field: "pattern", Message: "pattern is required"}
	}
	if len(pattern) > im.config.MaxPatternLen {
		return nil, &ValidationError{Row: row, Field: "pattern", Value: truncate(pattern, 32), Message: "pattern too long"}
	}
	if im.validator != nil {
		if err := im.validator.Validate(pattern); err != nil {
			return nil, &ValidationError{Row: row, Field: "pattern", Value: pattern, Message: err.Error()}
		}
	}
	roles, err := rules.ParseRoles(rec.AllowedRoles)
	if err != nil {
		return nil, &ValidationError{Row: row, Field: "allowed_roles", Value: rec.AllowedRoles, Message: err.Error()}
	}

	createdBy := strings.TrimSpace(rec.CreatedBy)
	if createdBy == "" {
		createdBy = im.config.CreatedBy
	}
	return &rules.Rule{
		Pattern:      pattern,
		Description:  rec.Description,
		AllowedRoles: roles,
		CreatedBy:    createdBy,
	}, nil
}

func (im *Importer) addError(result *ImportResult, msg string) {
	if len(result.Errors) < im.config.MaxErrors {
		result.Errors = append(result.Errors, msg)
	}
	im.logger.Debug("Skipping record", zap.String("reason", msg))
}

// recordRead updates the progress stats and logs every ProgressReport rows
func (im *Importer) recordRead(result *ImportResult) {
	im.mu.Lock()
	im.stats.RecordsRead++
	now := time.Now()
	im.stats.LastUpdate = now
	if elapsed := now.Sub(im.stats.StartTime).Seconds(); elapsed > 0 {
		im.stats.RecordsPerSecond = float64(im.stats.RecordsRead) / elapsed
	}
	read, rate := im.stats.RecordsRead, im.stats.RecordsPerSecond
	im.mu.Unlock()

	if read%im.config.ProgressReport == 0 {
		im.logger.Info("Import progress",
			zap.Int64("records_read", read),
			zap.Int64("inserted", result.Inserted),
			zap.Float64("records_per_second", rate))
	}
}

func (im *Importer) resetStats() {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.stats = &ProcessingStats{StartTime: time.Now()}
}

// GetStats returns a snapshot of the current import progress
func (im *Importer) GetStats() ProcessingStats {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return *im.stats
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
