package streams

// Mapping resolves the destination stream for a topic. Topics without an
// entry map to a stream of the same name.
type Mapping map[string]string

func (m Mapping) StreamFor(topic string) string {
	if name, ok := m[topic]; ok && name != "" {
		return name
	}
	return topic
}
