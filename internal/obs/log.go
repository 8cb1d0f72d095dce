// Package obs carries the observability plumbing of the access gateway:
// the shared JSON line logger, prometheus metrics for the HTTP surface and
// the field-read domain, and build info.
package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared line logger, one JSON object per line on
// stdout. Field plaintext and full account identifiers never go through
// it; callers log hints and ids only.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// Log emits one structured line with the envelope fields (ts, level, msg)
// stamped over the caller's fields.
func Log(level, msg string, fields map[string]any) {
	entry := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level
	entry["msg"] = msg
	writeEntry(entry)
}

// LogRequest emits a pre-assembled entry; the HTTP middleware uses it for
// the per-request line.
func LogRequest(entry map[string]any) {
	writeEntry(entry)
}

func writeEntry(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"ts":"error","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
