package models

// StreamType classifies a destination stream
type StreamType string

const (
	StreamTypeUserDefined StreamType = "user-defined"
	StreamTypeInternal    StreamType = "internal"
)

// IsValid checks if the stream type is known
func (s StreamType) IsValid() bool {
	switch s {
	case StreamTypeUserDefined, StreamTypeInternal:
		return true
	default:
		return false
	}
}
