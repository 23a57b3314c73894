package cases

import (
	"fmt"
	"log/slog"
	"os"
)

// OpenLog opens the per-case worker log. Everything the pipeline does for
// one case, including the full failure message, ends up in this file next
// to the case's artifacts.
func OpenLog(path string) (*slog.Logger, func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening case log: %w", err)
	}
	log := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return log, f.Close, nil
}
