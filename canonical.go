package casevault

import (
	"bytes"
	"encoding/json"
	"sort"
)

// AssociatedData is the unencrypted record cryptographically bound to each
// ciphertext. Exactly one of PackID (ingest) or RotatedAt (rotation) is set.
type AssociatedData struct {
	TenantID  string `json:"tenantId"`
	Type      string `json:"type"`
	ID        string `json:"id"`
	PackID    string `json:"packId,omitempty"`
	RotatedAt string `json:"rotatedAt,omitempty"`
}

func (a AssociatedData) fields() map[string]string {
	m := map[string]string{
		"tenantId": a.TenantID,
		"type":     a.Type,
		"id":       a.ID,
	}
	if a.PackID != "" {
		m["packId"] = a.PackID
	}
	if a.RotatedAt != "" {
		m["rotatedAt"] = a.RotatedAt
	}
	return m
}

// canonicalAAD serializes an associated-data record into the exact bytes fed
// to the AEAD. Keys are sorted and no whitespace is emitted, so two
// semantically identical records always produce identical bytes regardless
// of the order their fields were populated or decoded in.
func canonicalAAD(a AssociatedData) []byte {
	return canonicalObject(a.fields())
}

// canonicalObject renders a flat string record as minimal JSON with keys in
// lexicographic order. Values are encoded with encoding/json so escaping
// matches what a decoder of the stored record will reproduce.
func canonicalObject(m map[string]string) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(m[k])
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}
