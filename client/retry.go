package client

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/spetersoncode/hanabi"
)

// retrying retries transient provider errors with exponential backoff. A
// server's Retry-After wins when it asks for a longer wait. Streams are only
// retried while nothing has been delivered to the caller.
type retrying struct {
	next     hanabi.ChatProvider
	max      uint64
	interval time.Duration
	log      zerolog.Logger
}

func (r *retrying) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.interval
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, r.max)
}

// wait sleeps before the next attempt. It returns false when the attempt
// should not happen.
func (r *retrying) wait(ctx context.Context, b backoff.BackOff, err error) bool {
	if hanabi.CategoryOf(err) != hanabi.ErrorTransient {
		return false
	}
	d := b.NextBackOff()
	if d == backoff.Stop {
		return false
	}
	var pe *hanabi.Error
	if errors.As(err, &pe) && pe.RetryDelay > d {
		d = pe.RetryDelay
	}
	r.log.Warn().Err(err).Dur("retryIn", d).Msg("transient model error, retrying")

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (r *retrying) Chat(ctx context.Context, messages []hanabi.Message, opts ...hanabi.Option) (*hanabi.Response, error) {
	b := r.policy()
	for {
		resp, err := r.next.Chat(ctx, messages, opts...)
		if err == nil || !r.wait(ctx, b, err) {
			return resp, err
		}
	}
}

func (r *retrying) ChatStream(ctx context.Context, messages []hanabi.Message, opts ...hanabi.Option) (<-chan hanabi.StreamEvent, error) {
	b := r.policy()
	for {
		ch, err := r.next.ChatStream(ctx, messages, opts...)
		if err != nil {
			if r.wait(ctx, b, err) {
				continue
			}
			return nil, err
		}

		first, ok := <-ch
		if ok && first.Err != nil && r.wait(ctx, b, first.Err) {
			drain(ch)
			continue
		}
		return relay(ctx, first, ok, ch), nil
	}
}

// relay re-emits first (when ok) followed by everything left in rest.
func relay(ctx context.Context, first hanabi.StreamEvent, ok bool, rest <-chan hanabi.StreamEvent) <-chan hanabi.StreamEvent {
	out := make(chan hanabi.StreamEvent)
	go func() {
		defer close(out)
		defer drain(rest)
		if !ok {
			return
		}
		ev := first
		for {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if ev, ok = <-rest; !ok {
				return
			}
		}
	}()
	return out
}

func drain(ch <-chan hanabi.StreamEvent) {
	go func() {
		for range ch {
		}
	}()
}

var _ hanabi.ChatProvider = (*retrying)(nil)
