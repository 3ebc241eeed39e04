// Package fleet simulates a fleet of N devices each running an
// independent reconnect.Scheduler, to observe the dispersion property
// spec.md §8 requires: no 1-second bucket should receive more than a
// small multiple of the fleet-average share of simultaneous
// reconnects. It is adapted from blasters/mqtt_blaster.go's pattern of
// spinning up N virtual stations and driving them in lockstep, here
// generalized from "blast MQTT messages" to "sample N dispersed
// reconnect delays".
package fleet

import (
	"fmt"
	"sort"

	"github.com/rustyeddy/dms-agent/identity"
	"github.com/rustyeddy/dms-agent/reconnect"
)

// Simulator holds N simulated devices, each with its own MAC-derived
// scheduler, mirroring MQTTBlasters' Count/Blasters fields.
type Simulator struct {
	Count   int
	cfg     identity.Config
	devices []*reconnect.Scheduler
}

// NewSimulator builds a Simulator of count devices, each assigned a
// synthetic, distinct MAC (mirroring NewMQTTBlasters' "station-%d" id
// scheme).
func NewSimulator(count int, cfg identity.Config) *Simulator {
	s := &Simulator{Count: count, cfg: cfg}
	s.devices = make([]*reconnect.Scheduler, count)
	for i := 0; i < count; i++ {
		mac := fmt.Sprintf("AA%010d", i)
		id, err := identity.NewIdentity("sim", fmt.Sprintf("SN%d", i), mac, "NA", "Sim",
			identity.Linux, identity.Embedded, "US", "0", nil)
		if err != nil {
			panic(err) // synthetic MACs are always well-formed
		}
		s.devices[i] = reconnect.New(cfg, id, reconnect.Capabilities{})
	}
	return s
}

// BucketReport summarizes the distribution of NextDelay() across every
// simulated device at a fixed retryCount.
type BucketReport struct {
	RetryCount   int
	Buckets      map[int]int // 1-second bucket -> device count
	MaxBucket    int
	MaxCount     int
	AverageShare float64
}

// Disperse samples NextDelay() for every device at the given
// retryCount and buckets the results into 1-second windows.
func (s *Simulator) Disperse(retryCount int) BucketReport {
	report := BucketReport{RetryCount: retryCount, Buckets: make(map[int]int)}

	for _, dev := range s.devices {
		dev.SetRetryCount(retryCount)
		bucket := int(dev.NextDelay().Seconds())
		report.Buckets[bucket]++
	}

	for bucket, count := range report.Buckets {
		if count > report.MaxCount {
			report.MaxCount = count
			report.MaxBucket = bucket
		}
	}
	maxDelaySeconds := s.cfg.RetryMaxDelay.Seconds()
	if maxDelaySeconds > 0 {
		report.AverageShare = float64(s.Count) / maxDelaySeconds
	}
	return report
}

// WithinBound reports whether report satisfies spec.md §8's
// dispersion bound: no bucket holds more than 2*N/max_delay devices.
func (r BucketReport) WithinBound() bool {
	limit := int(2 * r.AverageShare)
	if limit < 1 {
		limit = 1
	}
	return r.MaxCount <= limit
}

// SortedBuckets returns the occupied buckets in ascending order, handy
// for logging a histogram from a CLI command.
func (r BucketReport) SortedBuckets() []int {
	keys := make([]int, 0, len(r.Buckets))
	for k := range r.Buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
