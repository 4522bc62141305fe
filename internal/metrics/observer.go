package metrics

import "github.com/RafaUC/Allusion-sub000/internal/retry"

// retryObserver implements retry.Observer using the Prometheus metrics
// declared in this package.
type retryObserver struct{}

// NewRetryObserver creates an observer that records store retry metrics.
func NewRetryObserver() retry.Observer {
	return &retryObserver{}
}

func (o *retryObserver) ObserveAttempt(operation string) {
	RetryAttempts.WithLabelValues(operation).Inc()
}

func (o *retryObserver) ObserveFailure(operation string) {
	RetryFailures.WithLabelValues(operation).Inc()
}

func (o *retryObserver) ObserveDuration(operation string, durationSeconds float64) {
	RetryDuration.WithLabelValues(operation).Observe(durationSeconds)
}
