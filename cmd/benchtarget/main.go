// Benchtarget is a Criterion-compatible benchmark executable written in Go.
// Started by benchrun it reports every benchmark over the cargo-criterion
// protocol; started directly it prints the mean time per iteration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/weiihann/benchrun/connection"
)

// reporter receives the lifecycle of every benchmark.
type reporter interface {
	beginGroup(group string) error
	skip(id connection.RawBenchmarkID) error
	// begin announces a benchmark and blocks until it may run.
	begin(id connection.RawBenchmarkID) error
	start(id connection.RawBenchmarkID, m measurement) error
	complete(id connection.RawBenchmarkID, m measurement) error
	endGroup(group string) error
}

func main() {
	_ = flag.Bool("bench", false, "run in benchmark mode (set by the runner)")
	filter := flag.String("filter", "", "only run benchmarks whose ID contains this string")
	samples := flag.Int("samples", 10, "samples per benchmark")
	warmUpTime := flag.Duration("warm-up", 200*time.Millisecond, "warm-up time per benchmark")
	measurementTime := flag.Duration("measurement", time.Second, "measurement time per benchmark")
	flag.Parse()

	if *samples < 1 {
		fatal("--samples must be at least 1")
	}

	rep, closeFn, err := newReporter()
	if err != nil {
		fatal("%v", err)
	}
	defer closeFn()

	if err := run(rep, benchmarks(), *filter, *samples, *warmUpTime, *measurementTime); err != nil {
		fatal("%v", err)
	}
}

func run(
	rep reporter,
	benches []benchmark,
	filter string,
	samples int,
	warmUpTime, measurementTime time.Duration,
) error {
	if err := rep.beginGroup(groupName); err != nil {
		return err
	}

	for _, b := range benches {
		if filter != "" && !strings.Contains(b.id.String(), filter) {
			if err := rep.skip(b.id); err != nil {
				return err
			}
			continue
		}

		if err := rep.begin(b.id); err != nil {
			return err
		}

		m := measure(b.fn, warmUpTime, measurementTime, samples)

		if err := rep.start(b.id, m); err != nil {
			return err
		}
		if err := rep.complete(b.id, m); err != nil {
			return err
		}
	}

	return rep.endGroup(groupName)
}

func newReporter() (reporter, func(), error) {
	port, err := connection.PortFromEnv()
	if errors.Is(err, connection.ErrNoRunner) {
		return textReporter{}, func() {}, nil
	}
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := connection.Dial(ctx, net.JoinHostPort("localhost", strconv.Itoa(port)), connection.DefaultHello())
	if err != nil {
		return nil, nil, err
	}

	return &protocolReporter{client: client}, func() { client.Close() }, nil
}

type protocolReporter struct {
	client *connection.Client
}

func (r *protocolReporter) beginGroup(group string) error {
	return r.client.Send(connection.BeginningBenchmarkGroup{Group: group})
}

func (r *protocolReporter) skip(id connection.RawBenchmarkID) error {
	return r.client.Send(connection.SkippingBenchmark{ID: id})
}

func (r *protocolReporter) begin(id connection.RawBenchmarkID) error {
	if err := r.client.Send(connection.BeginningBenchmark{ID: id}); err != nil {
		return err
	}

	msg, err := r.client.Receive()
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("runner closed the connection before %s", id)
	}
	if msg.Type() != connection.TypeRunBenchmark {
		return fmt.Errorf("unexpected instruction %s for %s", msg.Type(), id)
	}

	return nil
}

func (r *protocolReporter) start(id connection.RawBenchmarkID, m measurement) error {
	if err := r.client.Send(connection.Warmup{ID: id, Nanos: float64(m.warmUp.Nanoseconds())}); err != nil {
		return err
	}

	return r.client.Send(connection.MeasurementStart{
		ID:          id,
		SampleCount: uint64(len(m.iters)),
		EstimateNs:  m.estimateNs,
		IterCount:   m.totalIters(),
	})
}

func (r *protocolReporter) complete(id connection.RawBenchmarkID, m measurement) error {
	return r.client.Send(connection.MeasurementComplete{
		ID:             id,
		Iters:          m.iters,
		Times:          m.times,
		SamplingMethod: "Linear",
	})
}

func (r *protocolReporter) endGroup(group string) error {
	return r.client.Send(connection.FinishedBenchmarkGroup{Group: group})
}

type textReporter struct{}

func (textReporter) beginGroup(string) error { return nil }
func (textReporter) endGroup(string) error   { return nil }

func (textReporter) skip(id connection.RawBenchmarkID) error {
	fmt.Printf("%-32s skipped\n", id)
	return nil
}

func (textReporter) begin(connection.RawBenchmarkID) error { return nil }

func (textReporter) start(connection.RawBenchmarkID, measurement) error { return nil }

func (textReporter) complete(id connection.RawBenchmarkID, m measurement) error {
	var iters, ns float64
	for i := range m.iters {
		iters += m.iters[i]
		ns += m.times[i]
	}

	fmt.Printf("%-32s time: %v/iter\n", id, time.Duration(ns/iters))
	return nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "benchtarget: "+format+"\n", args...)
	os.Exit(1)
}
