package webhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/kv"
)

// Inbound verification errors. The API maps all of them to 401 without
// leaking which check failed beyond the error text in logs.
var (
	ErrUnknownSource  = errors.New("unknown webhook source")
	ErrStaleTimestamp = errors.New("timestamp outside accepted window")
	ErrBadSignature   = errors.New("signature mismatch")
	ErrReplay         = errors.New("duplicate delivery")
)

// Receiver verifies inbound webhooks: HMAC signature, timestamp skew
// window, and a short-lived replay guard keyed on the sender's event id.
type Receiver struct {
	kv  *kv.Store
	cfg *config.WebhookConfig
	now func() time.Time
}

// NewReceiver creates a receiver using the configured source secrets.
func NewReceiver(store *kv.Store, cfg *config.WebhookConfig) *Receiver {
	return &Receiver{kv: store, cfg: cfg, now: time.Now}
}

// Verify authenticates one inbound request. timestamp is the raw
// X-Timestamp header; replayKey is the sender's delivery/event id used
// for replay detection (the signature itself when the sender omits one).
func (r *Receiver) Verify(ctx context.Context, source, timestamp string, body []byte, signature, replayKey string) error {
	secret, ok := r.cfg.IncomingSecrets[source]
	if !ok || secret == "" {
		return fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad X-Timestamp %q", ErrStaleTimestamp, timestamp)
	}
	skew := r.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > r.cfg.ReplaySkew {
		return fmt.Errorf("%w: %s off by %s", ErrStaleTimestamp, timestamp, skew)
	}

	if !Verify(secret, ts, body, signature) {
		return ErrBadSignature
	}

	if replayKey == "" {
		replayKey = signature
	}
	set, err := r.kv.SetNX(ctx, "webhook:replay:"+source+":"+replayKey, []byte("1"), 2*r.cfg.ReplaySkew)
	if err != nil {
		return fmt.Errorf("replay guard: %w", err)
	}
	if !set {
		return fmt.Errorf("%w: %s", ErrReplay, replayKey)
	}
	return nil
}
