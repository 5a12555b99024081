package reporting

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/scalpel-e2e/internal/results"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter writes the whole RunReport as indented JSON.
type JSONReporter struct {
	writer io.WriteCloser
}

func NewJSONReporter(w io.WriteCloser) *JSONReporter {
	return &JSONReporter{writer: w}
}

func (r *JSONReporter) Write(report *results.RunReport) error {
	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode JSON report: %w", err)
	}
	return nil
}

func (r *JSONReporter) Close() error {
	if err := r.writer.Close(); err != nil {
		return fmt.Errorf("failed to close output writer: %w", err)
	}
	return nil
}
