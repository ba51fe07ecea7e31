package worker

import (
	"strconv"

	"kafkasink/internal/metrics"
	"kafkasink/internal/models"
)

// State is the lifecycle stage of a partition worker
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingBatch State = "awaiting_batch"
	StateDispatching   State = "dispatching"
	StateDraining      State = "draining"
	StateFinished      State = "finished"
)

// PartitionStatus is a snapshot of one partition's worker
type PartitionStatus struct {
	models.TopicPartition
	State    State `json:"state"`
	InFlight int   `json:"in_flight"`

	// Committed is the last acknowledged commit offset, -1 before the first commit
	Committed int64  `json:"committed"`
	Error     string `json:"error,omitempty"`
}

func (w *Worker) startPartition(tp models.TopicPartition) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.partitions[tp] = &PartitionStatus{TopicPartition: tp, State: StateIdle, Committed: -1}
}

func (w *Worker) setState(tp models.TopicPartition, s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if st, ok := w.partitions[tp]; ok {
		st.State = s
	}
}

func (w *Worker) finishPartition(tp models.TopicPartition, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.partitions[tp]
	if !ok {
		return
	}
	st.State = StateFinished
	if err != nil {
		st.Error = err.Error()
	}
}

func (w *Worker) addInFlight(tp models.TopicPartition, delta int) {
	w.mu.Lock()
	if st, ok := w.partitions[tp]; ok {
		st.InFlight += delta
	}
	w.mu.Unlock()
	metrics.InFlightBatches.WithLabelValues(tp.Topic, strconv.Itoa(int(tp.Partition))).Add(float64(delta))
}

func (w *Worker) setCommitted(target models.CommitTarget) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if st, ok := w.partitions[target.TopicPartition]; ok {
		st.Committed = target.Offset
	}
}
