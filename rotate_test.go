package casevault

import (
	"context"
	"testing"
)

func TestRotateKeys(t *testing.T) {
	store, _ := ingestFixture(t)
	ctx := context.Background()

	before := make(map[string]string)
	for _, typ := range objectTypes {
		idx, err := store.loadIndex("acme")
		if err != nil {
			t.Fatalf("loadIndex: %v", err)
		}
		for _, id := range idx.sortedIDs(typ) {
			env, err := loadEnvelope(store.objectAbsPath("acme", idx[typ][id].RelativePath))
			if err != nil {
				t.Fatalf("loadEnvelope %s/%s: %v", typ, id, err)
			}
			before[typ+"/"+id] = env.KeyID
		}
	}

	result, err := store.RotateKeys(ctx, "acme")
	if err != nil {
		t.Fatalf("RotateKeys: %v", err)
	}
	if result.Rotated != 3 || result.Skipped != 0 {
		t.Errorf("rotated %d, skipped %d", result.Rotated, result.Skipped)
	}

	// Every envelope now references the new key id.
	idx, err := store.loadIndex("acme")
	if err != nil {
		t.Fatalf("loadIndex: %v", err)
	}
	for _, typ := range objectTypes {
		for _, id := range idx.sortedIDs(typ) {
			env, err := loadEnvelope(store.objectAbsPath("acme", idx[typ][id].RelativePath))
			if err != nil {
				t.Fatalf("loadEnvelope %s/%s: %v", typ, id, err)
			}
			if env.KeyID != result.NewKeyID {
				t.Errorf("%s/%s still under key %s", typ, id, env.KeyID)
			}
			if env.KeyID == before[typ+"/"+id] {
				t.Errorf("%s/%s key id unchanged", typ, id)
			}
			if env.AAD.RotatedAt == "" || env.AAD.PackID != "" {
				t.Errorf("%s/%s rotation associated data = %+v", typ, id, env.AAD)
			}
		}
	}

	// All objects stay readable with identical plaintext.
	got, err := store.GetObject(ctx, "acme", ObjectTypeCase, "c1")
	if err != nil {
		t.Fatalf("GetObject after rotation: %v", err)
	}
	if string(got) != "case body" {
		t.Errorf("plaintext after rotation = %q", got)
	}

	report, err := store.VerifyStoreIntegrity(ctx, "acme")
	if err != nil {
		t.Fatalf("VerifyStoreIntegrity: %v", err)
	}
	if !report.Valid {
		t.Errorf("store invalid after rotation: %+v", report.Errors)
	}

	// The rotation is recorded in the audit log.
	entries, err := store.ReadIngestLog("acme")
	if err != nil {
		t.Fatalf("ReadIngestLog: %v", err)
	}
	last := entries[len(entries)-1]
	if last.Event != auditEventRotation || last.KeyID != result.NewKeyID || last.Status != auditStatusComplete {
		t.Errorf("rotation log entry = %+v", last)
	}
}

func TestRotateKeysPreservesHistoricalReads(t *testing.T) {
	store, _ := ingestFixture(t)
	ctx := context.Background()

	// Rotate the keyring without rewriting objects, simulating a sweep that
	// died before touching anything. Old envelopes must stay readable via
	// their historical key ids.
	if _, err := store.keys.RotateKey(ctx, "acme"); err != nil {
		t.Fatalf("RotateKey: %v", err)
	}

	got, err := store.GetObject(ctx, "acme", ObjectTypeEvidence, "e1")
	if err != nil {
		t.Fatalf("GetObject with historical key: %v", err)
	}
	if string(got) != "evidence body" {
		t.Errorf("plaintext = %q", got)
	}
}

func TestRotateKeysConverges(t *testing.T) {
	store, _ := ingestFixture(t)
	ctx := context.Background()

	first, err := store.RotateKeys(ctx, "acme")
	if err != nil {
		t.Fatalf("first RotateKeys: %v", err)
	}

	// A second sweep provisions yet another key and re-encrypts everything
	// again; nothing is skipped because no object is under the newest key yet.
	second, err := store.RotateKeys(ctx, "acme")
	if err != nil {
		t.Fatalf("second RotateKeys: %v", err)
	}
	if second.NewKeyID == first.NewKeyID {
		t.Error("rotation reused the previous key id")
	}
	if second.Rotated != 3 || second.Skipped != 0 {
		t.Errorf("second sweep rotated %d, skipped %d", second.Rotated, second.Skipped)
	}

	report, err := store.VerifyStoreIntegrity(ctx, "acme")
	if err != nil {
		t.Fatalf("VerifyStoreIntegrity: %v", err)
	}
	if !report.Valid {
		t.Errorf("store invalid after double rotation: %+v", report.Errors)
	}
}

func TestRotateKeysEmptyTenant(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.InitTenant(ctx, "empty"); err != nil {
		t.Fatalf("InitTenant: %v", err)
	}
	result, err := store.RotateKeys(ctx, "empty")
	if err != nil {
		t.Fatalf("RotateKeys: %v", err)
	}
	if result.Rotated != 0 || result.Skipped != 0 {
		t.Errorf("empty tenant rotated %d, skipped %d", result.Rotated, result.Skipped)
	}
}

func TestRotateKeysUnknownTenant(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.RotateKeys(context.Background(), "ghost"); err == nil {
		t.Error("rotation accepted for unknown tenant")
	}
}
