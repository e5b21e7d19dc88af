package verify

// Stats reduces per-receiver collected sequences against the sent sequence.
type Stats struct {
	// ReceptionPercentage is collected items over expected items across all
	// receivers, as a percentage.
	ReceptionPercentage float64
	// OrderPercentage is the share of receivers whose collected sequence
	// equals the sent sequence exactly. Exact means exact: a receiver with
	// every item in reverse order, or a correct prefix missing its tail,
	// is out of order.
	OrderPercentage float64
	// WorkersInOrder counts the receivers scored in order.
	WorkersInOrder int
	// WorkerCount counts the receivers evaluated.
	WorkerCount int
	// TotalReceived sums collected items across receivers.
	TotalReceived int
	// TotalExpected is WorkerCount times the sent count.
	TotalExpected int
}

// CalculateStats computes reception and order statistics. Degenerate input
// (no receivers or nothing sent) yields nil: "no stats" rather than a
// division by zero.
func CalculateStats(perReceiver [][]string, sent []string) *Stats {
	if len(perReceiver) == 0 || len(sent) == 0 {
		return nil
	}

	stats := &Stats{
		WorkerCount:   len(perReceiver),
		TotalExpected: len(perReceiver) * len(sent),
	}

	for _, received := range perReceiver {
		stats.TotalReceived += len(received)
		if inOrder(received, sent) {
			stats.WorkersInOrder++
		}
	}

	stats.ReceptionPercentage = float64(stats.TotalReceived) / float64(stats.TotalExpected) * 100
	stats.OrderPercentage = float64(stats.WorkersInOrder) / float64(stats.WorkerCount) * 100
	return stats
}

// inOrder reports whether a received sequence matches the sent sequence
// positionally, in full.
func inOrder(received, sent []string) bool {
	if len(received) != len(sent) {
		return false
	}
	for i, item := range received {
		if item != sent[i] {
			return false
		}
	}
	return true
}

// Thresholds are the caller-supplied pass bounds for a scenario.
type Thresholds struct {
	// ReceptionPercent is the minimum acceptable reception percentage.
	ReceptionPercent float64
	// OrderPercent is the minimum acceptable order percentage. The network
	// guarantees eventual delivery, not strict real-time ordering under
	// concurrent writers, so this is typically well below 100.
	OrderPercent float64
}

// DefaultThresholds returns the usual QA bounds: reception at or above 90%,
// order at or above 50%.
func DefaultThresholds() Thresholds {
	return Thresholds{ReceptionPercent: 90, OrderPercent: 50}
}

// Meets reports whether stats clear the thresholds. Nil stats (a scenario
// with nothing to verify) trivially pass.
func (t Thresholds) Meets(s *Stats) bool {
	if s == nil {
		return true
	}
	return s.ReceptionPercentage >= t.ReceptionPercent && s.OrderPercentage >= t.OrderPercent
}
