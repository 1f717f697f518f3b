package etl

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// RuleRecord is one rule as it appears in an import file
type RuleRecord struct {
	Pattern      string `csv:"pattern" parquet:"pattern" json:"pattern"`
	Description  string `csv:"description" parquet:"description" json:"description"`
	AllowedRoles string `csv:"allowed_roles" parquet:"allowed_roles" json:"allowed_roles"`
	CreatedBy    string `csv:"created_by" parquet:"created_by" json:"created_by"`
}

// ImportResult represents the result of importing a file
type ImportResult struct {
	TotalRecords int64         `json:"total_records"`
	Inserted     int64         `json:"inserted"`
	Duplicates   int64         `json:"duplicates"`
	Invalid      int64         `json:"invalid"`
	Duration     time.Duration `json:"duration"`
	DatabaseTime time.Duration `json:"database_time"`
	Errors       []string      `json:"errors,omitempty"`
}

// Config contains importer configuration
type Config struct {
	BatchSize      int    `yaml:"batch_size" mapstructure:"batch_size"`
	CreatedBy      string `yaml:"created_by" mapstructure:"created_by"`
	SkipBad        bool   `yaml:"skip_bad" mapstructure:"skip_bad"`
	MaxPatternLen  int    `yaml:"max_pattern_len" mapstructure:"max_pattern_len"`
	MaxErrors      int    `yaml:"max_errors" mapstructure:"max_errors"`
	ProgressReport int64  `yaml:"progress_report" mapstructure:"progress_report"`
}

// DefaultConfig returns the importer defaults
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      500,
		CreatedBy:      "import",
		SkipBad:        true,
		MaxPatternLen:  1000,
		MaxErrors:      100,
		ProgressReport: 10000,
	}
}

// ValidationError represents a record that cannot become a rule
type ValidationError struct {
	Row     int64  `json:"row"`
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("row %d: %s %q: %s", e.Row, e.Field, e.Value, e.Message)
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}

// ProcessingStats tracks import progress while a file is being read
type ProcessingStats struct {
	RecordsRead      int64     `json:"records_read"`
	RecordsPerSecond float64   `json:"records_per_second"`
	StartTime        time.Time `json:"start_time"`
	LastUpdate       time.Time `json:"last_update"`
}
