// Package connection implements the wire protocol spoken between the benchmark
// runner and a benchmark executable: the hello handshake, length-prefixed CBOR
// framing and the typed messages exchanged in both directions.
package connection

import (
	"fmt"
	"strings"
)

// MessageType is the tag that identifies a message variant on the wire.
type MessageType string

// Messages sent by the benchmark executable to the runner.
const (
	TypeBeginningBenchmarkGroup MessageType = "BeginningBenchmarkGroup"
	TypeFinishedBenchmarkGroup  MessageType = "FinishedBenchmarkGroup"
	TypeBeginningBenchmark      MessageType = "BeginningBenchmark"
	TypeSkippingBenchmark       MessageType = "SkippingBenchmark"
	TypeWarmup                  MessageType = "Warmup"
	TypeMeasurementStart        MessageType = "MeasurementStart"
	TypeMeasurementComplete     MessageType = "MeasurementComplete"
)

// Messages sent by the runner to the benchmark executable.
const (
	TypeRunBenchmark MessageType = "RunBenchmark"
)

// IncomingMessage is a message received from the benchmark executable.
type IncomingMessage interface {
	Type() MessageType
}

// OutgoingMessage is a message sent to the benchmark executable.
type OutgoingMessage interface {
	Type() MessageType
}

// BeginningBenchmarkGroup announces that a group of benchmarks is starting.
type BeginningBenchmarkGroup struct {
	Group string `cbor:"group"`
}

// FinishedBenchmarkGroup announces that a group of benchmarks has finished.
type FinishedBenchmarkGroup struct {
	Group string `cbor:"group"`
}

// BeginningBenchmark asks the runner whether the benchmark should run. The
// runner answers with RunBenchmark.
type BeginningBenchmark struct {
	ID RawBenchmarkID `cbor:"id"`
}

// SkippingBenchmark reports a benchmark filtered out by the executable.
type SkippingBenchmark struct {
	ID RawBenchmarkID `cbor:"id"`
}

// Warmup reports that the benchmark is warming up for Nanos nanoseconds.
type Warmup struct {
	ID    RawBenchmarkID `cbor:"id"`
	Nanos float64        `cbor:"nanos"`
}

// MeasurementStart reports the sampling plan of a benchmark.
type MeasurementStart struct {
	ID          RawBenchmarkID `cbor:"id"`
	SampleCount uint64         `cbor:"sample_count"`
	EstimateNs  float64        `cbor:"estimate_ns"`
	IterCount   uint64         `cbor:"iter_count"`
	AddedRunner bool           `cbor:"added_runner"`
}

// MeasurementComplete carries the raw samples of a benchmark: Iters[i]
// iterations took Times[i] nanoseconds.
type MeasurementComplete struct {
	ID             RawBenchmarkID `cbor:"id"`
	Iters          []float64      `cbor:"iters"`
	Times          []float64      `cbor:"times"`
	SamplingMethod string         `cbor:"sampling_method,omitempty"`
}

// RunBenchmark instructs the executable to measure the announced benchmark.
type RunBenchmark struct{}

func (BeginningBenchmarkGroup) Type() MessageType { return TypeBeginningBenchmarkGroup }
func (FinishedBenchmarkGroup) Type() MessageType  { return TypeFinishedBenchmarkGroup }
func (BeginningBenchmark) Type() MessageType      { return TypeBeginningBenchmark }
func (SkippingBenchmark) Type() MessageType       { return TypeSkippingBenchmark }
func (Warmup) Type() MessageType                  { return TypeWarmup }
func (MeasurementStart) Type() MessageType        { return TypeMeasurementStart }
func (MeasurementComplete) Type() MessageType     { return TypeMeasurementComplete }
func (RunBenchmark) Type() MessageType            { return TypeRunBenchmark }

// RawBenchmarkID identifies a benchmark as reported by the executable.
type RawBenchmarkID struct {
	GroupID    string       `cbor:"group_id"`
	FunctionID *string      `cbor:"function_id"`
	ValueStr   *string      `cbor:"value_str"`
	Throughput []Throughput `cbor:"throughput"`
}

// NewBenchmarkID builds an ID from its parts; empty parts are left unset.
func NewBenchmarkID(group, function, value string) RawBenchmarkID {
	id := RawBenchmarkID{GroupID: group}
	if function != "" {
		id.FunctionID = &function
	}
	if value != "" {
		id.ValueStr = &value
	}
	return id
}

// String renders the ID as group/function/value, omitting missing parts.
func (id RawBenchmarkID) String() string {
	parts := []string{id.GroupID}
	if id.FunctionID != nil {
		parts = append(parts, *id.FunctionID)
	}
	if id.ValueStr != nil {
		parts = append(parts, *id.ValueStr)
	}
	return strings.Join(parts, "/")
}

// ThroughputKind names the unit a benchmark's throughput is expressed in.
type ThroughputKind string

const (
	ThroughputBytes        ThroughputKind = "Bytes"
	ThroughputBytesDecimal ThroughputKind = "BytesDecimal"
	ThroughputElements     ThroughputKind = "Elements"
)

// Throughput is the amount of work processed by one benchmark iteration.
type Throughput struct {
	Kind  ThroughputKind
	Count uint64
}

func (t Throughput) String() string {
	return fmt.Sprintf("%d %s", t.Count, strings.ToLower(string(t.Kind)))
}
