package connection

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Nil slices go out as empty arrays; the executable side expects sequences,
// never null.
var encMode = mustEncMode(cbor.EncOptions{NilContainers: cbor.NilContainerAsEmpty})

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoding options: %v", err))
	}
	return em
}

// MarshalCBOR encodes the throughput as a single-entry map keyed by its kind.
func (t Throughput) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(map[string]uint64{string(t.Kind): t.Count})
}

// UnmarshalCBOR decodes a single-entry {kind: count} map.
func (t *Throughput) UnmarshalCBOR(data []byte) error {
	var m map[string]uint64
	if err := cbor.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode throughput: %w", err)
	}
	if len(m) != 1 {
		return fmt.Errorf("throughput has %d entries, want 1", len(m))
	}
	for kind, count := range m {
		switch ThroughputKind(kind) {
		case ThroughputBytes, ThroughputBytesDecimal, ThroughputElements:
		default:
			return fmt.Errorf("unknown throughput kind: %s", kind)
		}
		t.Kind = ThroughputKind(kind)
		t.Count = count
	}
	return nil
}

// EncodeIncoming encodes a benchmark-to-runner message as {tag: payload}.
func EncodeIncoming(msg IncomingMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("nil message")
	}
	return encMode.Marshal(map[string]IncomingMessage{string(msg.Type()): msg})
}

// DecodeIncoming parses a {tag: payload} document into a typed message.
func DecodeIncoming(data []byte) (IncomingMessage, error) {
	var envelope map[string]cbor.RawMessage
	if err := cbor.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse message envelope: %w", err)
	}
	if len(envelope) != 1 {
		return nil, fmt.Errorf("message envelope has %d entries, want 1", len(envelope))
	}

	var (
		tag     MessageType
		payload cbor.RawMessage
	)
	for k, v := range envelope {
		tag, payload = MessageType(k), v
	}

	switch tag {
	case TypeBeginningBenchmarkGroup:
		return decodePayload[BeginningBenchmarkGroup](tag, payload)
	case TypeFinishedBenchmarkGroup:
		return decodePayload[FinishedBenchmarkGroup](tag, payload)
	case TypeBeginningBenchmark:
		return decodePayload[BeginningBenchmark](tag, payload)
	case TypeSkippingBenchmark:
		return decodePayload[SkippingBenchmark](tag, payload)
	case TypeWarmup:
		return decodePayload[Warmup](tag, payload)
	case TypeMeasurementStart:
		return decodePayload[MeasurementStart](tag, payload)
	case TypeMeasurementComplete:
		return decodePayload[MeasurementComplete](tag, payload)
	default:
		return nil, fmt.Errorf("unknown message type: %s", tag)
	}
}

func decodePayload[T IncomingMessage](tag MessageType, payload cbor.RawMessage) (IncomingMessage, error) {
	var msg T
	if err := cbor.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse %s message: %w", tag, err)
	}
	return msg, nil
}

// EncodeOutgoing encodes a runner-to-benchmark message. Outgoing variants have
// no payload and travel as their bare tag.
func EncodeOutgoing(msg OutgoingMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("nil message")
	}
	return encMode.Marshal(string(msg.Type()))
}

// DecodeOutgoing parses a runner-to-benchmark message.
func DecodeOutgoing(data []byte) (OutgoingMessage, error) {
	var tag string
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("failed to parse message type: %w", err)
	}
	switch MessageType(tag) {
	case TypeRunBenchmark:
		return RunBenchmark{}, nil
	default:
		return nil, fmt.Errorf("unknown message type: %s", tag)
	}
}
