package models

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBatchCommitTarget(t *testing.T) {
	b := NewBatch([]RawRecord{
		{Topic: "logs", Partition: 3, Offset: 10, Payload: []byte(`{"a":1}`)},
		{Topic: "logs", Partition: 3, Offset: 11},
		{Topic: "logs", Partition: 3, Offset: 12, Payload: []byte(`{"a":2}`)},
	})

	target, ok := b.CommitTarget()
	if !ok {
		t.Fatal("expected commit target for non-empty batch")
	}
	if target.Offset != 13 {
		t.Errorf("expected offset 13, got %d", target.Offset)
	}
	if target.Topic != "logs" || target.Partition != 3 {
		t.Errorf("unexpected partition: %s", target.TopicPartition)
	}
}

func TestBatchCommitTargetEmpty(t *testing.T) {
	if _, ok := NewBatch(nil).CommitTarget(); ok {
		t.Error("empty batch should not produce a commit target")
	}
}

func TestRawRecordTombstone(t *testing.T) {
	if !(RawRecord{}).IsTombstone() {
		t.Error("record without payload should be a tombstone")
	}
	if (RawRecord{Payload: []byte("{}")}).IsTombstone() {
		t.Error("record with payload should not be a tombstone")
	}
	if (RawRecord{}).KeyString() != "" {
		t.Error("absent key should render empty")
	}
}

// For any non-empty batch, the commit target is one past the highest offset,
// whatever order the offsets arrive in.
func TestProperty_CommitTargetIsMaxPlusOne(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("commit target equals max offset + 1", prop.ForAll(
		func(offsets []int64) bool {
			if len(offsets) == 0 {
				return true
			}
			records := make([]RawRecord, len(offsets))
			max := offsets[0]
			for i, off := range offsets {
				records[i] = RawRecord{Topic: "t", Partition: 0, Offset: off}
				if off > max {
					max = off
				}
			}
			target, ok := NewBatch(records).CommitTarget()
			return ok && target.Offset == max+1
		},
		gen.SliceOf(gen.Int64Range(0, 1<<40)),
	))

	properties.TestingRun(t)
}
