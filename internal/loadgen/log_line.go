// Package loadgen produces synthetic structured logs to a topic.
package loadgen

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Severity represents log severity levels
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
	SeverityDebug   Severity = "DEBUG"
)

var severities = []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityDebug}

// IsValid checks if the severity level is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityDebug, SeverityInfo, SeverityWarning, SeverityError:
		return true
	default:
		return false
	}
}

// LogLine is one generated log document. Nested objects become prefixed
// columns once ingested.
type LogLine struct {
	Timestamp     string   `json:"timestamp"`
	CorrelationID string   `json:"correlation_id"`
	Level         Severity `json:"level"`
	Message       string   `json:"message"`
	Pod           Pod      `json:"pod"`
	Request       Request  `json:"request"`
	Response      Response `json:"response"`
	Metadata      Metadata `json:"metadata"`
}

type Pod struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Node      string `json:"node"`
}

type Request struct {
	Method        string `json:"method"`
	Path          string `json:"path"`
	RemoteAddress string `json:"remote_address"`
}

type Response struct {
	StatusCode int `json:"status_code"`
	LatencyMS  int `json:"latency_ms"`
}

type Metadata struct {
	ContainerID string `json:"container_id"`
	Image       string `json:"image"`
	Environment string `json:"environment"`
}

// Validation errors
var (
	ErrEmptyCorrelationID = errors.New("correlation id cannot be empty")
	ErrInvalidTimestamp   = errors.New("invalid timestamp format")
	ErrInvalidSeverity    = errors.New("invalid severity level")
	ErrEmptyMessage       = errors.New("message cannot be empty")
)

// Validate checks if the LogLine has all required fields and valid values
func (l *LogLine) Validate() error {
	if l.CorrelationID == "" {
		return ErrEmptyCorrelationID
	}
	if _, err := time.Parse(time.RFC3339Nano, l.Timestamp); err != nil {
		return ErrInvalidTimestamp
	}
	if !l.Level.IsValid() {
		return ErrInvalidSeverity
	}
	if l.Message == "" {
		return ErrEmptyMessage
	}
	return nil
}

var (
	messages = []string{
		"Received incoming HTTP request",
		"Processed request successfully",
		"Failed to process request",
		"Request timeout encountered",
		"Service unavailable",
	}
	methods      = []string{"GET", "POST", "PUT", "DELETE"}
	paths        = []string{"/api/resource", "/api/login", "/api/logout", "/api/data"}
	statusCodes  = []int{200, 201, 400, 401, 403, 404, 500}
	namespaces   = []string{"default", "kube-system", "production", "staging"}
	environments = []string{"dev", "staging", "prod"}
)

// Generator builds random log lines. It is not safe for concurrent use.
type Generator struct {
	rnd *rand.Rand
	now func() time.Time
}

func NewGenerator(seed int64) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed)), now: time.Now}
}

// Next returns a new random log line stamped with the current time
func (g *Generator) Next() LogLine {
	return LogLine{
		Timestamp:     g.now().UTC().Format(time.RFC3339Nano),
		CorrelationID: uuid.New().String(),
		Level:         severities[g.rnd.Intn(len(severities))],
		Message:       pick(g.rnd, messages),
		Pod: Pod{
			Name:      fmt.Sprintf("pod-%d", g.between(1, 100)),
			Namespace: pick(g.rnd, namespaces),
			Node:      fmt.Sprintf("node-%d", g.between(1, 10)),
		},
		Request: Request{
			Method:        pick(g.rnd, methods),
			Path:          pick(g.rnd, paths),
			RemoteAddress: fmt.Sprintf("192.168.1.%d", g.between(1, 255)),
		},
		Response: Response{
			StatusCode: statusCodes[g.rnd.Intn(len(statusCodes))],
			LatencyMS:  g.between(10, 1000),
		},
		Metadata: Metadata{
			ContainerID: fmt.Sprintf("container-%d", g.between(1000, 9999)),
			Image:       fmt.Sprintf("example/image:%d.0", g.between(1, 5)),
			Environment: pick(g.rnd, environments),
		},
	}
}

// between returns a random int in [lo, hi]
func (g *Generator) between(lo, hi int) int {
	return lo + g.rnd.Intn(hi-lo+1)
}

func pick(rnd *rand.Rand, from []string) string {
	return from[rnd.Intn(len(from))]
}
