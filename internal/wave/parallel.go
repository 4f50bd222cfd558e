package wave

import "math"

// Slot bounds for adaptive parallelism.
const (
	minSlots = 2
	maxSlots = 5

	// nearBatchWindow is how close a coordinating batch may be to full
	// before parallelism is clamped, reducing last-moment conflicts.
	nearBatchWindow = 3

	// nearBatchSlots is the clamped slot count near a batch boundary.
	nearBatchSlots = 2
)

// AdaptiveParallelCount scores the light/heavy mix of a wave: all-light runs
// five slots, all-heavy runs two, and a mix interpolates with
// round(2 + 3*lightRatio) clamped to [2,5].
func AdaptiveParallelCount(items []Item) int {
	if len(items) == 0 {
		return minSlots
	}
	light := 0
	for _, item := range items {
		if item.IsLight() {
			light++
		}
	}
	switch light {
	case len(items):
		return maxSlots
	case 0:
		return minSlots
	}
	ratio := float64(light) / float64(len(items))
	slots := int(math.Round(2 + 3*ratio))
	if slots < minSlots {
		slots = minSlots
	}
	if slots > maxSlots {
		slots = maxSlots
	}
	return slots
}

// ClampNearBatch reduces a slot count to at most two when the coordinating
// batch mechanism is within three items of its configured size. A
// non-positive remaining value means no batch mechanism is active.
func ClampNearBatch(slots, remainingInBatch int) int {
	if remainingInBatch <= 0 {
		return slots
	}
	if remainingInBatch <= nearBatchWindow && slots > nearBatchSlots {
		return nearBatchSlots
	}
	return slots
}
