package push

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DispatcherOptions tune batching and receipt reconciliation.
type DispatcherOptions struct {
	BatchSize    int
	ReceiptDelay time.Duration
}

// Dispatcher delivers notification messages in provider-sized batches and
// reconciles tickets and receipts, deactivating tokens the provider reports
// as permanently invalid. Dispatch is best-effort and never returns an error.
type Dispatcher struct {
	gateway Gateway
	tokens  TokenDeactivator
	opts    DispatcherOptions
	logger  zerolog.Logger
}

// Summary reports what happened to one Dispatch call. Used for logging only.
type Summary struct {
	Sent        int
	Dropped     int
	Failed      int
	Deactivated int
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(gateway Gateway, tokens TokenDeactivator, opts DispatcherOptions, logger zerolog.Logger) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.ReceiptDelay <= 0 {
		opts.ReceiptDelay = 5 * time.Second
	}

	return &Dispatcher{
		gateway: gateway,
		tokens:  tokens,
		opts:    opts,
		logger:  logger.With().Str("component", "push_dispatcher").Logger(),
	}
}

// Dispatch sends all messages. Invalid tokens are dropped silently, a failing
// batch does not abort the others, and DeviceNotRegistered tickets or
// receipts deactivate the offending token.
func (d *Dispatcher) Dispatch(ctx context.Context, messages []Message) Summary {
	summary := Summary{}
	if len(messages) == 0 {
		return summary
	}

	valid := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if !d.gateway.ValidateToken(msg.Token) {
			summary.Dropped++
			continue
		}
		valid = append(valid, msg)
	}

	// ticket id -> token, for receipt reconciliation after the delay.
	pending := make(map[string]string)

	for start := 0; start < len(valid); start += d.opts.BatchSize {
		end := start + d.opts.BatchSize
		if end > len(valid) {
			end = len(valid)
		}
		batch := valid[start:end]

		tickets, err := d.gateway.Send(ctx, batch)
		if err != nil {
			summary.Failed += len(batch)
			d.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("push batch failed")
			continue
		}

		for i, ticket := range tickets {
			if i >= len(batch) {
				break
			}
			token := batch[i].Token
			switch {
			case ticket.Status == StatusOK:
				summary.Sent++
				if ticket.ID != "" {
					pending[ticket.ID] = token
				}
			case ticket.Detail == DetailDeviceNotRegistered:
				summary.Failed++
				d.deactivate(ctx, token, &summary)
			default:
				// transient send error; token stays active
				summary.Failed++
				d.logger.Warn().Str("detail", ticket.Detail).Msg("push ticket error")
			}
		}
	}

	if len(pending) > 0 {
		d.reconcileReceipts(ctx, pending, &summary)
	}

	d.logger.Info().
		Int("sent", summary.Sent).
		Int("dropped", summary.Dropped).
		Int("failed", summary.Failed).
		Int("deactivated", summary.Deactivated).
		Msg("dispatch complete")
	return summary
}

func (d *Dispatcher) reconcileReceipts(ctx context.Context, pending map[string]string, summary *Summary) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(d.opts.ReceiptDelay):
	}

	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}

	for start := 0; start < len(ids); start += d.opts.BatchSize {
		end := start + d.opts.BatchSize
		if end > len(ids) {
			end = len(ids)
		}

		receipts, err := d.gateway.Receipts(ctx, ids[start:end])
		if err != nil {
			d.logger.Error().Err(err).Msg("receipt query failed")
			continue
		}

		for id, receipt := range receipts {
			if receipt.Status == StatusOK {
				continue
			}
			if receipt.Detail == DetailDeviceNotRegistered {
				d.deactivate(ctx, pending[id], summary)
				continue
			}
			d.logger.Warn().Str("ticket", id).Str("detail", receipt.Detail).Msg("push receipt error")
		}
	}
}

func (d *Dispatcher) deactivate(ctx context.Context, token string, summary *Summary) {
	if d.tokens == nil || token == "" {
		return
	}
	if err := d.tokens.DeactivateToken(ctx, token); err != nil {
		d.logger.Error().Err(err).Msg("token deactivation failed")
		return
	}
	summary.Deactivated++
	d.logger.Info().Msg("deactivated unregistered token")
}
