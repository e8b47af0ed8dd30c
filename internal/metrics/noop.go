package metrics

import "time"

type NoopRecorder struct{}

func NewNoopRecorder() Recorder { return NoopRecorder{} }

func (NoopRecorder) PaymentProcessed(string, string, string) {}

func (NoopRecorder) ObserveLatency(string, string, time.Duration) {}

func (NoopRecorder) WalletFallback(string) {}

func (NoopRecorder) JobRun(string, string) {}
