package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/muurk/hdmctl/internal/logging"
	"go.uber.org/zap"
)

// maxLineSize bounds a single JSON line when reading the ledger back
const maxLineSize = 1 << 20

// FileLedger appends entries to a JSON Lines file, one object per line
type FileLedger struct {
	path string
	mu   sync.Mutex
	hub  hub
}

// OpenFile returns a ledger backed by path, creating its directory.
// The file itself is created on the first Record.
func OpenFile(path string) (*FileLedger, error) {
	if path == "" {
		return nil, errors.New("ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return &FileLedger{path: path}, nil
}

// Path returns the ledger file
func (l *FileLedger) Path() string {
	return l.path
}

// Record appends e to the file
func (l *FileLedger) Record(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	l.mu.Lock()
	err = l.appendLine(data)
	l.mu.Unlock()
	if err != nil {
		logging.Error("Failed to write ledger entry",
			zap.String("path", l.path),
			zap.Error(err),
		)
		return err
	}

	logging.Debug("Recorded ledger entry",
		zap.String("device", e.Device),
		zap.String("operation", e.Operation),
		zap.Bool("success", e.Success),
	)
	l.hub.publish(e)
	return nil
}

func (l *FileLedger) appendLine(data []byte) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write ledger file: %w", err)
	}
	return nil
}

// Entries reads the file and returns the entries matching f, oldest first.
// A missing file is an empty ledger.
func (l *FileLedger) Entries(f Filter) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("ledger line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}

	return f.apply(entries), nil
}

// Subscribe follows newly recorded entries
func (l *FileLedger) Subscribe() (<-chan Entry, func()) {
	return l.hub.subscribe()
}
