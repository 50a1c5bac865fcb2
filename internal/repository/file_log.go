package repository

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

const maxLineSize = 4 << 20

// FileLog stores one JSON document per line in a flat file.
type FileLog struct {
	path string
	mu   sync.Mutex
}

// NewFileLog returns a FileLog backed by path. The file is created on the
// first append.
func NewFileLog(path string) (*FileLog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository: log file path must not be empty")
	}
	return &FileLog{path: path}, nil
}

// Path returns the backing file path.
func (l *FileLog) Path() string {
	return l.path
}

// Append compacts entry and writes it as a single line. Each call opens,
// writes and closes the file.
func (l *FileLog) Append(_ context.Context, entry json.RawMessage) error {
	line, err := compactLine(entry)
	if err != nil {
		return fmt.Errorf("repository: FileLog append: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("repository: FileLog open: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("repository: FileLog write: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("repository: FileLog close: %w", err)
	}
	return nil
}

// Entries reads every logged entry. A missing file yields an empty slice.
func (l *FileLog) Entries(_ context.Context) ([]json.RawMessage, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: FileLog open: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries := []json.RawMessage{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return nil, fmt.Errorf("repository: FileLog line %d is not valid JSON", lineNo)
		}
		entries = append(entries, json.RawMessage(bytes.Clone(line)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("repository: FileLog read: %w", err)
	}
	return entries, nil
}

func compactLine(entry json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, entry); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
