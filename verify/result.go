package verify

import "time"

// ReceiverSequence is what one receiver collected, in arrival order.
type ReceiverSequence struct {
	// Worker is the receiver's participant name.
	Worker string `json:"worker"`
	// Installation is the receiver's installation id.
	Installation string `json:"installation"`
	// Payloads are the extracted event payloads in arrival order.
	Payloads []string `json:"payloads"`
	// Err is set when the receiver's stream failed mid-collection. The
	// payloads gathered before the failure are still counted.
	Err error `json:"-"`
}

// Result is the immutable outcome of one verification scenario.
type Result struct {
	// Scenario names the variant that ran (message, metadata, ...).
	Scenario string `json:"scenario"`
	// SentSequence is the expected payload order.
	SentSequence []string `json:"sent_sequence"`
	// PerReceiver holds each receiver's collected sequence.
	PerReceiver []ReceiverSequence `json:"per_receiver"`
	// AllReceived is true when every receiver collected the full count.
	AllReceived bool `json:"all_received"`
	// ReceiverCount is the number of receivers evaluated.
	ReceiverCount int `json:"receiver_count"`
	// EventTimings are the send-to-receive latencies of every matched
	// event, in collection order per receiver.
	EventTimings []time.Duration `json:"event_timings"`
	// AverageEventTiming is the mean of EventTimings, zero when empty.
	AverageEventTiming time.Duration `json:"average_event_timing"`
	// Stats is nil for degenerate scenarios (zero receivers, nothing sent).
	Stats *Stats `json:"stats,omitempty"`
}

// Sequences returns just the payload slices, in receiver order. Convenience
// for feeding CalculateStats or assertions.
func (r *Result) Sequences() [][]string {
	sequences := make([][]string, len(r.PerReceiver))
	for i, receiver := range r.PerReceiver {
		sequences[i] = receiver.Payloads
	}
	return sequences
}
