package geminibot

import (
	"fmt"
	"github.com/lmittmann/tint"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// ErrorLog appends generation failures to a plain text file, with enough
// request detail for an operator to diagnose the failure after the fact.
// The file is never read back by the bot itself.
type ErrorLog struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// ErrorLogEntry captures one failed exchange.
type ErrorLogEntry struct {
	Message     string
	Err         string
	History     string
	Candidates  string
	BlockReason string
}

func NewErrorLog(path string, logger *slog.Logger) *ErrorLog {
	if path == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorLog{path: path, logger: logger}
}

// Record appends the entry to the log file. A nil receiver is a no-op,
// so callers don't need to check whether the error log is configured.
func (e *ErrorLog) Record(entry ErrorLogEntry) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.OpenFile(e.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		e.logger.Error("unable to open error log", tint.Err(err))
		return
	}
	defer func() {
		_ = f.Close()
	}()

	sections := []string{
		"\n##########################",
		"Message: " + entry.Message,
		"-------------------",
		"Error:\n" + entry.Err,
		"-------------------",
		"History:\n" + entry.History,
		"-------------------",
		"Candidates:\n" + entry.Candidates,
		"-------------------",
		"Block reason:\n" + entry.BlockReason,
	}
	if _, err = fmt.Fprintln(f, strings.Join(sections, "\n")); err != nil {
		e.logger.Error("unable to write error log", tint.Err(err))
	}
}
