// Package metrics records payment, wallet and job outcomes.
package metrics

import "time"

// Recorder is implemented by the Prometheus recorder and a no-op.
type Recorder interface {
	PaymentProcessed(kind, outcome, network string)
	ObserveLatency(operation, network string, d time.Duration)
	WalletFallback(network string)
	JobRun(job, outcome string)
}
