package casevault

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestIngestLogChain(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.InitTenant(ctx, "acme"); err != nil {
		t.Fatalf("InitTenant: %v", err)
	}

	for i, packID := range []string{"pack-001", "pack-002", "pack-003"} {
		pack := buildPack(t, packID, []packFile{
			{group: "cases", id: "c1", body: packID},
		})
		if _, err := store.IngestCasePack(ctx, pack, "acme"); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	entries, err := store.ReadIngestLog("acme")
	if err != nil {
		t.Fatalf("ReadIngestLog: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("log has %d entries, want 3", len(entries))
	}

	if entries[0].PrevHash != "" {
		t.Errorf("first entry PrevHash = %q, want empty", entries[0].PrevHash)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].EntryHash {
			t.Errorf("entry %d back-link broken", i)
		}
	}
	for i, e := range entries {
		if e.Event != auditEventIngest || e.Status != auditStatusComplete || e.FileCount != 1 {
			t.Errorf("entry %d = %+v", i, e)
		}
	}

	broken, err := store.VerifyAuditChain("acme")
	if err != nil {
		t.Fatalf("VerifyAuditChain: %v", err)
	}
	if broken != -1 {
		t.Errorf("intact chain reported broken at %d", broken)
	}
}

func TestVerifyAuditChainDetectsEdit(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	if err := store.InitTenant(ctx, "acme"); err != nil {
		t.Fatalf("InitTenant: %v", err)
	}
	for _, packID := range []string{"pack-001", "pack-002"} {
		pack := buildPack(t, packID, []packFile{
			{group: "notes", id: "n1", body: packID},
		})
		if _, err := store.IngestCasePack(ctx, pack, "acme"); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	// Rewrite the first line with an altered pack id, keeping the recorded
	// hashes. The chain must break at that entry.
	logPath := filepath.Join(dir, "tenants", "acme", "audits", ingestLogFilename)
	f, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	f.Close()
	if len(lines) != 2 {
		t.Fatalf("log has %d lines", len(lines))
	}

	var first IngestLogEntry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	first.PackID = "pack-forged"
	forged, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := string(forged) + "\n" + lines[1] + "\n"
	if err := os.WriteFile(logPath, []byte(out), 0o600); err != nil {
		t.Fatalf("rewrite log: %v", err)
	}

	broken, err := store.VerifyAuditChain("acme")
	if err != nil {
		t.Fatalf("VerifyAuditChain: %v", err)
	}
	if broken != 0 {
		t.Errorf("chain broken at %d, want 0", broken)
	}
}

func TestVerifyAuditChainDetectsTruncation(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	if err := store.InitTenant(ctx, "acme"); err != nil {
		t.Fatalf("InitTenant: %v", err)
	}
	for _, packID := range []string{"pack-001", "pack-002", "pack-003"} {
		pack := buildPack(t, packID, []packFile{
			{group: "cases", id: "c1", body: packID},
		})
		if _, err := store.IngestCasePack(ctx, pack, "acme"); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	// Drop the middle line. The surviving third entry's back-link no longer
	// matches its predecessor.
	logPath := filepath.Join(dir, "tenants", "acme", "audits", ingestLogFilename)
	f, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	f.Close()
	out := lines[0] + "\n" + lines[2] + "\n"
	if err := os.WriteFile(logPath, []byte(out), 0o600); err != nil {
		t.Fatalf("rewrite log: %v", err)
	}

	broken, err := store.VerifyAuditChain("acme")
	if err != nil {
		t.Fatalf("VerifyAuditChain: %v", err)
	}
	if broken != 1 {
		t.Errorf("chain broken at %d, want 1", broken)
	}
}

func TestReadIngestLogEmpty(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.InitTenant(context.Background(), "acme"); err != nil {
		t.Fatalf("InitTenant: %v", err)
	}
	entries, err := store.ReadIngestLog("acme")
	if err != nil {
		t.Fatalf("ReadIngestLog: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("fresh tenant log has %d entries", len(entries))
	}
}
