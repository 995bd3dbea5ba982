package replay

import (
	"errors"
	"testing"

	"mex.com/pkg/eventlog"
)

// recorder 记录应用顺序
type recorder struct {
	applied []int64
	failOn  int64
}

func (r *recorder) Apply(event *eventlog.StateChangeEvent) error {
	if r.failOn != 0 && event.CommandID == r.failOn {
		return errors.New("boom")
	}
	r.applied = append(r.applied, event.CommandID)
	return nil
}

func event(id int64) *eventlog.StateChangeEvent {
	return &eventlog.StateChangeEvent{CommandID: id, EventType: "NEW_ORDER", Success: true}
}

func TestReplayInOrder(t *testing.T) {
	rec := &recorder{}
	r := NewReplayer(rec, 0, DefaultConfig())

	for id := int64(1); id <= 5; id++ {
		if err := r.Feed(event(id)); err != nil {
			t.Fatalf("feed %d: %v", id, err)
		}
	}
	if err := r.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}

	if len(rec.applied) != 5 || r.Watermark() != 5 {
		t.Fatalf("applied=%v watermark=%d", rec.applied, r.Watermark())
	}
}

func TestReplaySkipsBelowWatermark(t *testing.T) {
	rec := &recorder{}
	r := NewReplayer(rec, 10, DefaultConfig())

	// 快照水位 10，重复投喂旧事件必须幂等
	for id := int64(8); id <= 12; id++ {
		if err := r.Feed(event(id)); err != nil {
			t.Fatalf("feed %d: %v", id, err)
		}
	}

	if len(rec.applied) != 2 || rec.applied[0] != 11 || rec.applied[1] != 12 {
		t.Fatalf("applied=%v, want [11 12]", rec.applied)
	}

	stats := r.GetStats()
	if stats.Applied != 2 || stats.Skipped != 3 {
		t.Fatalf("stats=%+v", stats)
	}
}

func TestReplayBuffersOutOfOrder(t *testing.T) {
	rec := &recorder{}
	r := NewReplayer(rec, 0, DefaultConfig())

	// 3、2 先到，缓存等 1
	if err := r.Feed(event(3)); err != nil {
		t.Fatalf("feed 3: %v", err)
	}
	if err := r.Feed(event(2)); err != nil {
		t.Fatalf("feed 2: %v", err)
	}
	if len(rec.applied) != 0 {
		t.Fatalf("nothing should be applied yet, got %v", rec.applied)
	}

	// 1 到达后连续应用 1、2、3
	if err := r.Feed(event(1)); err != nil {
		t.Fatalf("feed 1: %v", err)
	}
	want := []int64{1, 2, 3}
	if len(rec.applied) != 3 {
		t.Fatalf("applied=%v, want %v", rec.applied, want)
	}
	for i, id := range want {
		if rec.applied[i] != id {
			t.Fatalf("applied=%v, want %v", rec.applied, want)
		}
	}
	if err := r.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
}

func TestReplayGapOverflow(t *testing.T) {
	rec := &recorder{}
	r := NewReplayer(rec, 0, Config{MaxBuffered: 3})

	// 1 永远不来，缓存 2..5 超过上限
	var err error
	for id := int64(2); id <= 5; id++ {
		err = r.Feed(event(id))
	}
	if !errors.Is(err, ErrGap) {
		t.Fatalf("err = %v, want ErrGap", err)
	}
}

func TestReplayFinishDetectsGap(t *testing.T) {
	rec := &recorder{}
	r := NewReplayer(rec, 0, DefaultConfig())

	if err := r.Feed(event(1)); err != nil {
		t.Fatalf("feed 1: %v", err)
	}
	// 2 缺失
	if err := r.Feed(event(3)); err != nil {
		t.Fatalf("feed 3: %v", err)
	}

	if err := r.Finish(); !errors.Is(err, ErrGap) {
		t.Fatalf("finish err = %v, want ErrGap", err)
	}
}

func TestReplayApplyFailureStops(t *testing.T) {
	rec := &recorder{failOn: 2}
	r := NewReplayer(rec, 0, DefaultConfig())

	if err := r.Feed(event(1)); err != nil {
		t.Fatalf("feed 1: %v", err)
	}
	if err := r.Feed(event(2)); err == nil {
		t.Fatal("expected apply error")
	}
	// 水位停在最后成功的命令
	if r.Watermark() != 1 {
		t.Fatalf("watermark = %d, want 1", r.Watermark())
	}
}

func TestRunFromMemoryLog(t *testing.T) {
	memlog := eventlog.NewMemoryLog()
	for id := int64(1); id <= 4; id++ {
		data, err := event(id).Value()
		if err != nil {
			t.Fatalf("encode %d: %v", id, err)
		}
		if _, err := memlog.Append(eventlog.TopicStateChanges, "engine", data); err != nil {
			t.Fatalf("append %d: %v", id, err)
		}
	}

	// 快照水位 2，重放只应用 3、4
	rec := &recorder{}
	watermark, err := Run(memlog, rec, 2)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if watermark != 4 {
		t.Fatalf("watermark = %d, want 4", watermark)
	}
	if len(rec.applied) != 2 || rec.applied[0] != 3 || rec.applied[1] != 4 {
		t.Fatalf("applied=%v, want [3 4]", rec.applied)
	}
}

func TestFeedRawDecodeError(t *testing.T) {
	r := NewReplayer(&recorder{}, 0, DefaultConfig())
	if err := r.FeedRaw([]byte("not json")); !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}
