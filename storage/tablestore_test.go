package storage

import (
	"encoding/json"
	"testing"
)

func TestNewTableStoreInvalidConnectionString(t *testing.T) {
	_, err := NewTableStore(TableStoreConfig{ConnectionString: "bogus", UsersTable: "Users", TasksTable: "Tasks"})
	if err == nil {
		t.Fatal("expected error for invalid connection string")
	}
}

func TestEntityPayloadCarriesKeys(t *testing.T) {
	payload, err := entityPayload("alice", "t1", map[string]any{"title": "buy milk", "completed": false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ent map[string]any
	if err := json.Unmarshal(payload, &ent); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ent["PartitionKey"] != "alice" || ent["RowKey"] != "t1" {
		t.Fatalf("missing entity keys: %+v", ent)
	}
	if ent["title"] != "buy milk" {
		t.Fatalf("record fields lost: %+v", ent)
	}
}

func TestStripEntityMetadata(t *testing.T) {
	raw := []byte(`{"PartitionKey":"alice","RowKey":"t1","Timestamp":"2026-01-01T00:00:00Z","odata.etag":"W/\"x\"","Timestamp@odata.type":"Edm.DateTime","title":"buy milk","completed":true}`)
	rec, err := stripEntityMetadata(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(rec, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 || got["title"] != "buy milk" || got["completed"] != true {
		t.Fatalf("unexpected record %+v", got)
	}
}
