package casevault

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	ingestLogFilename   = "ingest-log.jsonl"
	tamperLogFilename   = "tamper-events.jsonl"
	auditEventIngest    = "ingest"
	auditEventRotation  = "rotation"
	auditStatusComplete = "completed"
)

// IngestLogEntry is one line of the append-only ingest log. Entries are
// hash-chained: each records the previous entry's hash, so truncation or
// edits after the fact are detectable with VerifyAuditChain.
type IngestLogEntry struct {
	EntryID   string    `json:"entryId"`
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	PackID    string    `json:"packId,omitempty"`
	FileCount int       `json:"fileCount,omitempty"`
	KeyID     string    `json:"keyId,omitempty"`
	Status    string    `json:"status"`
	PrevHash  string    `json:"prevHash"`
	EntryHash string    `json:"entryHash"`
}

func hashIngestEntry(e *IngestLogEntry) string {
	h := sha256.New()
	h.Write([]byte(e.EntryID))
	h.Write([]byte(e.Timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(e.Event))
	h.Write([]byte(e.PackID))
	h.Write([]byte(strconv.Itoa(e.FileCount)))
	h.Write([]byte(e.KeyID))
	h.Write([]byte(e.Status))
	h.Write([]byte(e.PrevHash))
	return hex.EncodeToString(h.Sum(nil))
}

// appendIngestEntry chains and appends one entry to the tenant's ingest log.
func (s *Store) appendIngestEntry(tenantID string, entry IngestLogEntry) error {
	path := s.auditPath(tenantID, ingestLogFilename)

	entry.EntryID = uuid.NewString()
	entry.Timestamp = time.Now().UTC()
	entry.PrevHash = lastChainHash(path)
	entry.EntryHash = hashIngestEntry(&entry)

	return appendJSONLine(path, entry)
}

// appendTamperEvent appends one event to the tamper log. Callers treat
// failures as best-effort: a broken audit trail never aborts a scan.
func (s *Store) appendTamperEvent(tenantID string, event TamperEvent) error {
	return appendJSONLine(s.auditPath(tenantID, tamperLogFilename), event)
}

// lastChainHash scans the log for the final entry's hash. An absent or empty
// log starts a new chain.
func lastChainHash(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	last := ""
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e IngestLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		last = e.EntryHash
	}
	return last
}

func appendJSONLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// ReadIngestLog returns every entry of the tenant's ingest log in order.
func (s *Store) ReadIngestLog(tenantID string) ([]IngestLogEntry, error) {
	if err := validateTenantID(tenantID); err != nil {
		return nil, err
	}

	f, err := os.Open(s.auditPath(tenantID, ingestLogFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []IngestLogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e IngestLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("corrupt ingest log line: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// VerifyAuditChain walks the ingest log and checks every entry's hash and
// back-link. It returns the index of the first broken entry, or -1 when the
// chain is intact.
func (s *Store) VerifyAuditChain(tenantID string) (int, error) {
	entries, err := s.ReadIngestLog(tenantID)
	if err != nil {
		return -1, err
	}

	prev := ""
	for i := range entries {
		e := entries[i]
		if e.PrevHash != prev {
			return i, nil
		}
		if hashIngestEntry(&e) != e.EntryHash {
			return i, nil
		}
		prev = e.EntryHash
	}
	return -1, nil
}
