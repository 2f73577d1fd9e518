package main

import (
	"crypto/sha256"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/weiihann/benchrun/connection"
)

const groupName = "benchtarget"

type benchmark struct {
	id connection.RawBenchmarkID
	fn func()
}

var sink any

func benchmarks() []benchmark {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}

	rng := rand.New(rand.NewPCG(1, 2))
	unsorted := make([]int, 1024)
	for i := range unsorted {
		unsorted[i] = rng.IntN(1 << 20)
	}
	scratch := make([]int, len(unsorted))

	sortID := connection.NewBenchmarkID(groupName, "sort", "1024")
	sortID.Throughput = []connection.Throughput{{Kind: connection.ThroughputElements, Count: 1024}}

	hashID := connection.NewBenchmarkID(groupName, "sha256", "4096")
	hashID.Throughput = []connection.Throughput{{Kind: connection.ThroughputBytes, Count: 4096}}

	return []benchmark{
		{
			id: connection.NewBenchmarkID(groupName, "fib", "20"),
			fn: func() { sink = fib(20) },
		},
		{
			id: sortID,
			fn: func() {
				copy(scratch, unsorted)
				slices.Sort(scratch)
			},
		},
		{
			id: hashID,
			fn: func() { sink = sha256.Sum256(data) },
		},
	}
}

func fib(n int) int {
	if n < 2 {
		return n
	}
	return fib(n-1) + fib(n-2)
}

// measurement is the outcome of one linear sampling run.
type measurement struct {
	warmUp     time.Duration
	estimateNs float64
	iters      []float64
	times      []float64
}

func (m measurement) totalIters() uint64 {
	var total float64
	for _, n := range m.iters {
		total += n
	}
	return uint64(total)
}

// warmUp runs fn with doubling batch sizes until d has elapsed and returns
// the observed mean time per iteration in nanoseconds.
func warmUp(fn func(), d time.Duration) float64 {
	var (
		iters   uint64
		elapsed time.Duration
	)

	start := time.Now()
	for batch := uint64(1); ; batch *= 2 {
		for range batch {
			fn()
		}
		iters += batch
		elapsed = time.Since(start)
		if elapsed >= d {
			break
		}
	}

	return float64(elapsed.Nanoseconds()) / float64(iters)
}

// linearIters returns the iteration count of each sample so that sample i
// runs (i+1)*d iterations and all samples together take about target ns.
func linearIters(nsPerIter float64, samples int, target time.Duration) []float64 {
	// A coarse clock can make a fast function look free.
	nsPerIter = max(nsPerIter, 1)

	n := float64(samples)
	total := n * (n + 1) / 2
	d := math.Ceil(float64(target.Nanoseconds()) / (nsPerIter * total))
	if d < 1 {
		d = 1
	}

	iters := make([]float64, samples)
	for i := range iters {
		iters[i] = float64(i+1) * d
	}

	return iters
}

func measure(fn func(), warmUpTime, measurementTime time.Duration, samples int) measurement {
	nsPerIter := warmUp(fn, warmUpTime)
	iters := linearIters(nsPerIter, samples, measurementTime)

	m := measurement{
		warmUp: warmUpTime,
		iters:  iters,
		times:  make([]float64, len(iters)),
	}
	m.estimateNs = float64(m.totalIters()) * nsPerIter

	for i, n := range iters {
		start := time.Now()
		for range uint64(n) {
			fn()
		}
		m.times[i] = float64(time.Since(start).Nanoseconds())
	}

	return m
}
