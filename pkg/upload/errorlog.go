package upload

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// ErrorLog is the plain text failure log. It is recreated empty at the
// start of each batch and receives one line per failed task.
type ErrorLog struct {
	mu   sync.Mutex
	file afero.File
	now  func() time.Time
}

// OpenErrorLog truncates path on fs. An empty path yields a log that drops
// everything.
func OpenErrorLog(fs afero.Fs, path string) (*ErrorLog, error) {
	l := &ErrorLog{now: time.Now}
	if path == "" {
		return l, nil
	}
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open error log %s: %w", path, err)
	}
	l.file = f
	return l, nil
}

// Write appends a failure line for localPath on host.
func (l *ErrorLog) Write(localPath, host string, attempts int, msg string) error {
	if l == nil || l.file == nil {
		return nil
	}
	msg = strings.ReplaceAll(msg, "\n", " ")

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.file, "%s upload %s to %s failed after %d retries: %s\n",
		l.now().Format(time.RFC3339), localPath, host, attempts, msg)
	return err
}

func (l *ErrorLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
