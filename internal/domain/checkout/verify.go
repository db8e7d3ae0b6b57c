package checkout

import (
	"context"
	"time"
)

// Verification retry policy. The delay is fixed rather than exponential: the
// expected failure mode is a brief network blip, not backend overload.
const (
	defaultVerifyAttempts = 3
	defaultVerifyDelay    = 2 * time.Second
)

// verdict is the final classification of a verification run.
type verdict int

const (
	verdictCompleted verdict = iota
	verdictRejected
	verdictExhausted
)

// verifier confirms a gateway payment reference against the backend with a
// bounded number of retries. Only transient (network-class) errors are
// retried; an application-level rejection short-circuits immediately without
// consuming further attempts.
type verifier struct {
	backend  Backend
	attempts int
	delay    time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func newVerifier(backend Backend) *verifier {
	return &verifier{
		backend:  backend,
		attempts: defaultVerifyAttempts,
		delay:    defaultVerifyDelay,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// run performs up to v.attempts verification calls for appOrderID, invoking
// record for every attempt made. It returns the final verdict and, for
// verdictRejected, the permanent error.
func (v *verifier) run(
	ctx context.Context,
	appOrderID string,
	ref PaymentReference,
	record func(VerificationAttempt) error,
) (verdict, error) {
	for attempt := 1; attempt <= v.attempts; attempt++ {
		err := v.backend.VerifyPayment(ctx, appOrderID, ref)
		if err == nil {
			_ = record(VerificationAttempt{
				Number:  attempt,
				Outcome: AttemptSuccess,
				At:      v.now(),
			})
			return verdictCompleted, nil
		}

		if !IsTransient(err) {
			_ = record(VerificationAttempt{
				Number:  attempt,
				Outcome: AttemptPermanentFailure,
				Detail:  err.Error(),
				At:      v.now(),
			})
			return verdictRejected, err
		}

		_ = record(VerificationAttempt{
			Number:  attempt,
			Outcome: AttemptTransientFailure,
			Detail:  err.Error(),
			At:      v.now(),
		})

		if attempt == v.attempts {
			break
		}
		if err := v.sleep(ctx, v.delay); err != nil {
			// Shutdown mid-verification: the answer stays unknown.
			return verdictExhausted, err
		}
	}
	return verdictExhausted, nil
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
