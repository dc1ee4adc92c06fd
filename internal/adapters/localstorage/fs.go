package localstorage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qabatch/internal/core/domain"
)

const (
	DefaultSuccessFile = "batch_qa_results.jsonl"
	DefaultFailureFile = "error_log.txt"

	// Delimiter terminates every failure log entry.
	Delimiter = "=================================================="
)

// LocalStorage implements ports.Storage as two append-only files.
type LocalStorage struct {
	BaseDir     string
	SuccessFile string
	FailureFile string
}

// NewLocalStorage creates a new LocalStorage instance. Empty file names fall
// back to the defaults.
func NewLocalStorage(baseDir, successFile, failureFile string) *LocalStorage {
	if successFile == "" {
		successFile = DefaultSuccessFile
	}
	if failureFile == "" {
		failureFile = DefaultFailureFile
	}
	return &LocalStorage{BaseDir: baseDir, SuccessFile: successFile, FailureFile: failureFile}
}

// Init creates the output directory.
func (s *LocalStorage) Init(ctx context.Context) error {
	if err := os.MkdirAll(s.BaseDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", s.BaseDir, err)
	}
	return nil
}

// AppendSuccess appends the record as indented JSON followed by a newline.
func (s *LocalStorage) AppendSuccess(ctx context.Context, record *domain.GeneratedRecord) error {
	unit, err := EncodeRecord(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return appendUnit(s.SuccessPath(), unit)
}

// AppendFailure appends one plain-text entry to the failure log.
func (s *LocalStorage) AppendFailure(ctx context.Context, failure domain.FailureRecord) error {
	return appendUnit(s.FailurePath(), EncodeFailure(failure))
}

// SuccessPath returns the path of the success store.
func (s *LocalStorage) SuccessPath() string {
	return filepath.Join(s.BaseDir, s.SuccessFile)
}

// FailurePath returns the path of the failure log.
func (s *LocalStorage) FailurePath() string {
	return filepath.Join(s.BaseDir, s.FailureFile)
}

// PersistedIDs returns the original ids of every complete record in the
// success store. A missing store yields an empty set. Torn units are skipped.
func (s *LocalStorage) PersistedIDs(ctx context.Context) (map[domain.ItemID]struct{}, error) {
	ids := make(map[domain.ItemID]struct{})

	file, err := os.Open(s.SuccessPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ids, nil
		}
		return nil, fmt.Errorf("failed to open success store: %w", err)
	}
	defer file.Close()

	records, err := DecodeRecords(file)
	for _, r := range records {
		id := r.OriginalID
		if id == "" {
			id = domain.ItemID(r.ID)
		}
		ids[id] = struct{}{}
	}
	if err != nil && !errors.Is(err, ErrTornUnit) {
		return ids, err
	}
	return ids, nil
}

// EncodeRecord renders one success unit. HTML escaping is off so tags such
// as <image1> stay readable.
func EncodeRecord(record *domain.GeneratedRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeFailure renders one failure log entry, delimiter included.
func EncodeFailure(f domain.FailureRecord) []byte {
	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ID: %s\n", f.ItemID)
	if f.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", f.RunID)
	}
	fmt.Fprintf(&b, "Kind: %s\n", f.Kind)
	fmt.Fprintf(&b, "Time: %s\n", ts.Format(time.RFC3339))
	fmt.Fprintf(&b, "Error: %s\n", f.Message)
	if f.Raw != "" {
		fmt.Fprintf(&b, "Response: %s\n", f.Raw)
	}
	b.WriteString(Delimiter + "\n")
	return []byte(b.String())
}

// ErrTornUnit marks a unit that is not valid JSON, left by an interrupted write.
var ErrTornUnit = errors.New("malformed unit")

// DecodeRecords reads consecutive JSON records from r. A malformed unit is
// skipped up to the next line starting with '{' and decoding resumes there.
// Every well-formed record is returned; if any unit was skipped the error
// wraps ErrTornUnit.
func DecodeRecords(r io.Reader) ([]domain.GeneratedRecord, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("failed to read success store: %w", err)
	}

	var (
		records []domain.GeneratedRecord
		torn    int
		offset  int
	)
	for offset < len(data) {
		dec := json.NewDecoder(bytes.NewReader(data[offset:]))
		var rec domain.GeneratedRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil {
			records = append(records, rec)
			offset += int(dec.InputOffset())
			continue
		}

		torn++
		next := bytes.Index(data[offset+1:], []byte("\n{"))
		if next < 0 {
			break
		}
		offset += next + 2
	}

	if torn > 0 {
		return records, fmt.Errorf("%w: skipped %d unit(s), kept %d record(s)", ErrTornUnit, torn, len(records))
	}
	return records, nil
}

// appendUnit writes unit with a single write on a file opened for append,
// then syncs and closes it. Earlier units are never touched. If the file does
// not end in a newline (a torn unit), the unit is prefixed with one so it
// starts on its own line.
func appendUnit(path string, unit []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	torn, err := endsMidLine(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to inspect %s: %w", path, err)
	}
	if torn {
		unit = append([]byte{'\n'}, unit...)
	}

	if _, err := file.Write(unit); err != nil {
		file.Close()
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

// endsMidLine reports whether a non-empty file lacks a trailing newline.
func endsMidLine(file *os.File) (bool, error) {
	info, err := file.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := file.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}
