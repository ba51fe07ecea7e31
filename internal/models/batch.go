package models

// Batch is an ordered, non-empty group of records from a single partition.
// It is processed and committed as one unit.
type Batch struct {
	TopicPartition
	Records []RawRecord
}

// NewBatch builds a batch from records, taking the partition from the first record
func NewBatch(records []RawRecord) Batch {
	b := Batch{Records: records}
	if len(records) > 0 {
		b.TopicPartition = records[0].TopicPartition()
	}
	return b
}

// Len returns the number of records in the batch
func (b Batch) Len() int {
	return len(b.Records)
}

// MaxOffset returns the highest offset in the batch. The broker delivers in
// offset order, but the maximum is computed rather than assumed.
func (b Batch) MaxOffset() (int64, bool) {
	if len(b.Records) == 0 {
		return 0, false
	}
	max := b.Records[0].Offset
	for _, r := range b.Records[1:] {
		if r.Offset > max {
			max = r.Offset
		}
	}
	return max, true
}

// CommitTarget returns the offset to commit once the batch is handled:
// one past the highest offset in the batch.
func (b Batch) CommitTarget() (CommitTarget, bool) {
	max, ok := b.MaxOffset()
	if !ok {
		return CommitTarget{}, false
	}
	return CommitTarget{TopicPartition: b.TopicPartition, Offset: max + 1}, true
}
