package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/wry5560/PolyHermes-sub002/api"
	"github.com/wry5560/PolyHermes-sub002/models"
)

// ErrSubmissionFailed marks a submission that exhausted its retry budget.
var ErrSubmissionFailed = errors.New("order submission failed")

// Submitter posts signed orders with a bounded retry. Every attempt
// rebuilds and re-signs the order so each carries a fresh salt; a rejected
// payload is never replayed verbatim.
type Submitter struct {
	exchange api.ExchangeClient
	builder  *api.OrderBuilder

	attempts int
	backoff  time.Duration
	timeout  time.Duration
}

// NewSubmitter creates a submitter. attempts is the total try count.
func NewSubmitter(exchange api.ExchangeClient, builder *api.OrderBuilder, attempts int, backoff, timeout time.Duration) *Submitter {
	if attempts < 1 {
		attempts = 1
	}
	return &Submitter{
		exchange: exchange,
		builder:  builder,
		attempts: attempts,
		backoff:  backoff,
		timeout:  timeout,
	}
}

// Submit builds, signs and posts the order as FAK. Returns the exchange
// response of the successful attempt, or ErrSubmissionFailed wrapping the
// last error once the budget is spent. Build errors are terminal
// immediately: malformed input cannot be retried into validity.
func (s *Submitter) Submit(ctx context.Context, args api.OrderArgs, creds models.Credentials) (*api.OrderResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(s.backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrSubmissionFailed, ctx.Err())
			}
		}

		order, err := s.builder.BuildSigned(args, creds.PrivateKey)
		if err != nil {
			if errors.Is(err, api.ErrInvalidOrderParameters) {
				return nil, err
			}
			lastErr = err
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		resp, err := s.exchange.PostOrder(attemptCtx, order, api.OrderTypeFAK, creds)
		cancel()
		if err != nil {
			lastErr = err
			log.Printf("[Submitter] Attempt %d/%d failed for token %s: %v", attempt, s.attempts, args.TokenID, err)
			continue
		}
		if !resp.Success {
			lastErr = fmt.Errorf("exchange rejected order: %s", resp.ErrorMsg)
			log.Printf("[Submitter] Attempt %d/%d rejected for token %s: %s", attempt, s.attempts, args.TokenID, resp.ErrorMsg)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrSubmissionFailed, s.attempts, lastErr)
}
