package models

import (
	"fmt"
	"time"
)

// TopicPartition identifies one independently committable partition of a topic
type TopicPartition struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
}

// String renders the partition as topic/partition
func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s/%d", tp.Topic, tp.Partition)
}

// RawRecord is one message as read from the broker. It is never mutated
// after the consumer hands it over.
type RawRecord struct {
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       []byte    `json:"key,omitempty"`
	Payload   []byte    `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TopicPartition returns the partition the record was read from
func (r RawRecord) TopicPartition() TopicPartition {
	return TopicPartition{Topic: r.Topic, Partition: r.Partition}
}

// IsTombstone reports whether the record carries no payload
func (r RawRecord) IsTombstone() bool {
	return r.Payload == nil
}

// KeyString renders the key for logging, empty when absent
func (r RawRecord) KeyString() string {
	if r.Key == nil {
		return ""
	}
	return string(r.Key)
}

// CommitTarget is the next offset to read for a partition, persisted to the
// broker once a batch has been handled.
type CommitTarget struct {
	TopicPartition
	Offset int64 `json:"offset"`
}
