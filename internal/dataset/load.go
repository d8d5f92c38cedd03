package dataset

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet/internal/config"
)

// Supported dataset formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// nanValues are the cell spellings treated as missing.
var nanValues = []string{"", "NA", "N/A", "NaN", "nan", "null", "NULL"}

// Load reads the configured dataset file into a frame.
func Load(cfg config.DatasetConfig, logger *zap.Logger) (*Frame, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = FormatCSV
	}
	frame, err := Read(f, format)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", cfg.Path, err)
	}
	logger.Info("Dataset loaded",
		zap.String("path", cfg.Path),
		zap.Int("rows", frame.base.Nrow()),
		zap.Int("columns", frame.base.Ncol()),
	)
	return frame, nil
}

// Read parses a dataset in the given format.
func Read(r io.Reader, format string) (*Frame, error) {
	var df dataframe.DataFrame
	switch format {
	case FormatCSV:
		df = dataframe.ReadCSV(r,
			dataframe.HasHeader(true),
			dataframe.DetectTypes(true),
			dataframe.NaNValues(nanValues),
		)
	case FormatJSON:
		df = dataframe.ReadJSON(r, dataframe.DetectTypes(true))
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", format)
	}
	if df.Err != nil {
		return nil, df.Err
	}
	return NewFrame(df), nil
}

// ColumnContext lists the column names one per line as "- name".
func ColumnContext(f *Frame) string {
	cols := f.Columns()
	lines := make([]string, len(cols))
	for i, c := range cols {
		lines[i] = "- " + c
	}
	return strings.Join(lines, "\n")
}
