package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/xkilldash9x/scalpel-e2e/internal/results"
)

// Reporter renders a finished run.
type Reporter interface {
	// Write renders report. It may be called once per reporter.
	Write(report *results.RunReport) error
	// Close flushes and releases the output.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format ("text", "json" or "sarif") writing to
// outputPath, or stdout when it is empty or "stdout".
func New(format, outputPath, toolVersion string) (Reporter, error) {
	switch format {
	case "text", "json", "sarif":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "sarif":
		return NewSARIFReporter(writer, toolVersion), nil
	case "json":
		return NewJSONReporter(writer), nil
	default:
		return NewTextReporter(writer), nil
	}
}
