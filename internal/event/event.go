// Package event holds the storage-ready unit produced from one broker record
// and the conversion from schema-less payloads into Arrow records.
package event

import (
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"kafkasink/internal/models"
)

// Event is one converted record, handed to storage and then discarded.
type Event struct {
	Record          arrow.Record
	StreamName      string
	OriginFormat    string
	OriginSize      uint64
	IsFirstEvent    bool
	ParsedTimestamp time.Time

	// TimePartition names the column used for time partitioning, empty when unset
	TimePartition         string
	CustomPartitionValues map[string]string
	StreamType            models.StreamType
}

// NumRows returns the number of rows carried by the event
func (e *Event) NumRows() int64 {
	if e.Record == nil {
		return 0
	}
	return e.Record.NumRows()
}

// Release frees the underlying record. It is safe to call more than once.
func (e *Event) Release() {
	if e.Record != nil {
		e.Record.Release()
		e.Record = nil
	}
}
