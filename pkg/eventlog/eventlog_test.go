package eventlog

import (
	"bytes"
	"encoding/json"
	"testing"
)

// =============================================================================
// OffsetTable
// =============================================================================

func TestOffsetTableAdvanceCommit(t *testing.T) {
	table := NewOffsetTable()

	if got := table.Advance(TopicMatchResults); got != 1 {
		t.Fatalf("first advance = %d, want 1", got)
	}
	if got := table.Advance(TopicMatchResults); got != 2 {
		t.Fatalf("second advance = %d, want 2", got)
	}

	p := table.Get(TopicMatchResults)
	if p.Current != 2 || p.Committed != 0 {
		t.Fatalf("pair = %+v, want current=2 committed=0", p)
	}
	if p.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", p.Pending())
	}

	table.Commit(TopicMatchResults, 2)
	p = table.Get(TopicMatchResults)
	if !p.Consistent() {
		t.Fatalf("pair not consistent after commit: %+v", p)
	}
}

func TestOffsetTableCommitMonotonic(t *testing.T) {
	table := NewOffsetTable()
	table.Advance(TopicStateChanges)
	table.Advance(TopicStateChanges)
	table.Advance(TopicStateChanges)

	table.Commit(TopicStateChanges, 3)
	// 乱序到达的旧回执不能回退 committed
	table.Commit(TopicStateChanges, 1)

	if got := table.Get(TopicStateChanges).Committed; got != 3 {
		t.Fatalf("committed = %d, want 3", got)
	}
}

func TestOffsetTableConsistent(t *testing.T) {
	table := NewOffsetTable()
	if !table.Consistent() {
		t.Fatal("empty table should be consistent")
	}

	table.Advance(TopicSnapshots)
	if table.Consistent() {
		t.Fatal("table with pending message should not be consistent")
	}
	if table.Pending(TopicSnapshots) != 1 {
		t.Fatalf("pending = %d, want 1", table.Pending(TopicSnapshots))
	}

	table.Commit(TopicSnapshots, 1)
	if !table.Consistent() {
		t.Fatal("table should be consistent after commit")
	}
}

func TestOffsetTableExportRestore(t *testing.T) {
	table := NewOffsetTable()
	table.Advance(TopicMatchResults)
	table.Advance(TopicMatchResults)
	table.Commit(TopicMatchResults, 2)
	table.Advance(TopicStateChanges)

	exported := table.Export()

	restored := NewOffsetTable()
	restored.Restore(exported)

	for _, topic := range AllTopics {
		if restored.Get(topic) != table.Get(topic) {
			t.Fatalf("topic %s: restored %+v != original %+v",
				topic, restored.Get(topic), table.Get(topic))
		}
	}

	// 恢复后的表与原表互不影响
	restored.Advance(TopicMatchResults)
	if table.Get(TopicMatchResults).Current != 2 {
		t.Fatal("restore should deep-copy offset pairs")
	}
}

func TestOffsetTableTopics(t *testing.T) {
	table := NewOffsetTable()
	topics := table.Topics()
	if len(topics) != len(AllTopics) {
		t.Fatalf("topics count = %d, want %d", len(topics), len(AllTopics))
	}
	for i := 1; i < len(topics); i++ {
		if topics[i-1] >= topics[i] {
			t.Fatalf("topics not sorted: %v", topics)
		}
	}
}

// =============================================================================
// MemoryLog
// =============================================================================

func TestMemoryLogAppendRead(t *testing.T) {
	memlog := NewMemoryLog()

	for i := 0; i < 5; i++ {
		offset, err := memlog.Append(TopicStateChanges, "engine", []byte{byte('a' + i)})
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if offset != int64(i+1) {
			t.Fatalf("offset = %d, want %d", offset, i+1)
		}
	}

	if memlog.Len(TopicStateChanges) != 5 {
		t.Fatalf("len = %d, want 5", memlog.Len(TopicStateChanges))
	}
	// 内存实现追加即确认
	if !memlog.Offsets().Consistent() {
		t.Fatal("memory log should commit on append")
	}

	records := memlog.Read(TopicStateChanges, 3)
	if len(records) != 3 {
		t.Fatalf("read from offset 3 returned %d records, want 3", len(records))
	}
	if !bytes.Equal(records[0], []byte("c")) {
		t.Fatalf("first record = %q, want %q", records[0], "c")
	}

	if got := memlog.Read(TopicStateChanges, 6); got != nil {
		t.Fatalf("read past end should return nil, got %d records", len(got))
	}
	if got := memlog.Read(TopicStateChanges, 0); len(got) != 5 {
		t.Fatalf("read with offset < 1 should start from 1, got %d records", len(got))
	}
}

func TestMemoryLogIsolatesStoredBytes(t *testing.T) {
	memlog := NewMemoryLog()

	payload := []byte("hello")
	if _, err := memlog.Append(TopicMatchResults, "k", payload); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	payload[0] = 'X'

	records := memlog.Read(TopicMatchResults, 1)
	if !bytes.Equal(records[0], []byte("hello")) {
		t.Fatalf("stored record mutated: %q", records[0])
	}
}

func TestMemoryLogClosed(t *testing.T) {
	memlog := NewMemoryLog()
	if err := memlog.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := memlog.Append(TopicStateChanges, "k", []byte("x")); err != ErrClosed {
		t.Fatalf("append after close: err = %v, want ErrClosed", err)
	}
}

// =============================================================================
// StateChangeEvent
// =============================================================================

func TestStateChangeEventRoundTrip(t *testing.T) {
	event := &StateChangeEvent{
		CommandID: 42,
		EventType: "NEW_ORDER",
		Payload:   json.RawMessage(`{"order_id":100}`),
		Result:    json.RawMessage(`{"status":"FILLED"}`),
		Success:   true,
		Timestamp: 1700000000000,
	}

	if event.Topic() != TopicStateChanges {
		t.Fatalf("topic = %s, want %s", event.Topic(), TopicStateChanges)
	}
	if event.Key() != "engine" {
		t.Fatalf("key = %s, want engine", event.Key())
	}

	data, err := event.Value()
	if err != nil {
		t.Fatalf("value failed: %v", err)
	}

	var decoded StateChangeEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.CommandID != 42 || decoded.EventType != "NEW_ORDER" || !decoded.Success {
		t.Fatalf("decoded = %+v", decoded)
	}
	if string(decoded.Payload) != `{"order_id":100}` {
		t.Fatalf("payload = %s", decoded.Payload)
	}
}
