package memory

import "math"

// BatchPolicy sizes the next batch from current queue statistics.
type BatchPolicy interface {
	// BatchSize returns the number of items to hand out for a request of
	// maxSize. The result is capped at pending by the queue.
	BatchSize(maxSize int, successRate float64, inFlight int) int
}

// AdaptivePolicy shrinks batches when items keep failing or when the detail
// loop already has a large backlog in flight.
type AdaptivePolicy struct {
	// SuccessThreshold is the success rate under which batches shrink.
	SuccessThreshold float64
	// FailureShrink multiplies the batch size while below SuccessThreshold.
	FailureShrink float64
	// InFlightFactor times maxSize is the in-flight level that triggers BacklogShrink.
	InFlightFactor float64
	// BacklogShrink multiplies the batch size while the backlog is high.
	BacklogShrink float64
}

// DefaultPolicy returns the stock tuning: shrink 20% under an 80% success
// rate and a further 30% once in-flight exceeds twice the request size.
func DefaultPolicy() AdaptivePolicy {
	return AdaptivePolicy{
		SuccessThreshold: 0.8,
		FailureShrink:    0.8,
		InFlightFactor:   2,
		BacklogShrink:    0.7,
	}
}

// BatchSize applies both reductions multiplicatively and floors to at least one.
func (p AdaptivePolicy) BatchSize(maxSize int, successRate float64, inFlight int) int {
	if maxSize <= 0 {
		return 0
	}
	size := float64(maxSize)
	if successRate < p.SuccessThreshold {
		size *= p.FailureShrink
	}
	if float64(inFlight) > p.InFlightFactor*float64(maxSize) {
		size *= p.BacklogShrink
	}
	// Guard against float noise such as 10*0.8*0.7 = 5.6000000000000005.
	n := int(math.Floor(size + 1e-9))
	if n < 1 {
		n = 1
	}
	return n
}

// FixedPolicy always hands out maxSize items.
type FixedPolicy struct{}

// BatchSize returns maxSize unchanged.
func (FixedPolicy) BatchSize(maxSize int, _ float64, _ int) int {
	return maxSize
}
