package transcript

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Writer appends filtered traffic to the transcript file. The file is
// opened lazily on first use at the absolute form of the configured
// path. A writer that fails to open or write disables itself; the
// transcript is best effort and must never take the bridge down.
type Writer struct {
	path   string
	log    *zap.SugaredLogger
	filter Filter
	file   *os.File
	failed bool
}

// NewWriter returns a Writer recording to path.
func NewWriter(path string, log *zap.SugaredLogger) *Writer {
	return &Writer{path: path, log: log}
}

// Record filters p and appends the surviving bytes to the transcript.
func (w *Writer) Record(p []byte) {
	if w.failed || len(p) == 0 {
		return
	}

	if w.file == nil {
		path, err := filepath.Abs(w.path)
		if err != nil {
			path = w.path
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			w.log.Errorw("failed to open transcript file", zap.String("path", path), zap.Error(err))
			w.failed = true
			return
		}
		w.log.Infow("recording transcript", zap.String("path", path))
		w.file = f
	}

	if _, err := w.file.Write(w.filter.Apply(p)); err != nil {
		w.log.Errorw("failed to write transcript", zap.Error(err))
		w.failed = true
	}
}

// Close releases the transcript file if it was opened.
func (w *Writer) Close() {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			w.log.Warnw("failed to close transcript file", zap.Error(err))
		}
		w.file = nil
	}
}
