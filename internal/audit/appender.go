// Package audit maintains the tamper-evident operation log. Records append
// to a JSONL file and each record hashes its predecessor, so truncation or
// edits anywhere but the tail are detectable.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pdm-project/pdm/internal/flock"
	"github.com/pdm-project/pdm/pkg/jsonutil"
	"github.com/pdm-project/pdm/pkg/model"
)

// FileAppender appends audit records to a JSONL file with a hash chain.
// The file is flocked for the duration of each append so concurrent
// processes interleave whole records, never partial lines.
type FileAppender struct {
	path string
	mu   sync.Mutex
}

// NewFileAppender creates an appender for the audit log at path.
func NewFileAppender(path string) *FileAppender {
	return &FileAppender{path: path}
}

// Append records one event at the end of the log.
func (a *FileAppender) Append(eventType model.AuditEventType, resource, actor string, revisionID model.RevisionID, details map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	h, err := flock.Acquire(a.path, flock.ModeReadWrite)
	if err != nil {
		return fmt.Errorf("lock audit log: %w", err)
	}
	defer h.Release()
	file := h.File()

	prevHash, err := lastRecordHash(file)
	if err != nil {
		return fmt.Errorf("get last record hash: %w", err)
	}

	record := &model.AuditRecord{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		Resource:   resource,
		Actor:      actor,
		RevisionID: revisionID,
		Details:    details,
		PrevHash:   prevHash,
	}
	recordHash, err := computeRecordHash(record)
	if err != nil {
		return fmt.Errorf("compute record hash: %w", err)
	}
	record.RecordHash = recordHash

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	if _, err := file.Seek(0, 2); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}

	return nil
}

// Records returns every parseable record in the log, oldest first. A
// missing log file is an empty history, not an error.
func (a *FileAppender) Records() ([]*model.AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	var out []*model.AuditRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record model.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		out = append(out, &record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	return out, nil
}

// Verify walks the chain and reports the first break it finds: a record
// whose prev_hash does not match its predecessor, or whose record_hash
// does not match its own content.
func (a *FileAppender) Verify() error {
	records, err := a.Records()
	if err != nil {
		return err
	}

	var prev model.HashValue
	for i, record := range records {
		if record.PrevHash != prev {
			return fmt.Errorf("audit chain broken at record %d: prev_hash mismatch", i)
		}
		want, err := computeRecordHash(record)
		if err != nil {
			return err
		}
		if record.RecordHash != want {
			return fmt.Errorf("audit chain broken at record %d: record_hash mismatch", i)
		}
		prev = record.RecordHash
	}
	return nil
}

func lastRecordHash(file *os.File) (model.HashValue, error) {
	if _, err := file.Seek(0, 0); err != nil {
		return "", fmt.Errorf("seek to start: %w", err)
	}

	var lastHash model.HashValue
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record model.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		lastHash = record.RecordHash
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan audit log: %w", err)
	}
	return lastHash, nil
}

// computeRecordHash hashes the canonical JSON of the record with the
// record_hash field cleared.
func computeRecordHash(record *model.AuditRecord) (model.HashValue, error) {
	body := *record
	body.RecordHash = ""

	data, err := jsonutil.CanonicalMarshal(&body)
	if err != nil {
		return "", fmt.Errorf("canonical marshal: %w", err)
	}

	hash := sha256.Sum256(data)
	return model.HashValue(hex.EncodeToString(hash[:])), nil
}
