package pipeline

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Sender delivers a byte stream to a destination and returns the message id.
type Sender interface {
	SendDocument(ctx context.Context, dest Destination, name string, r io.Reader, size int64, caption string) (int, error)
}

// Publisher delivers a finished asset.
type Publisher interface {
	Publish(ctx context.Context, asset *TransientAsset, dest Destination, name, caption string) (PublishResult, error)
}

// DocumentPublisher sends an asset as a document, retrying transient send
// failures with exponential backoff. Each attempt opens its own handle and
// closes it before returning.
type DocumentPublisher struct {
	Sender          Sender
	MaxRetries      uint64
	Timeout         time.Duration
	InitialInterval time.Duration
}

func NewDocumentPublisher(s Sender, maxRetries int, timeout time.Duration) *DocumentPublisher {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &DocumentPublisher{Sender: s, MaxRetries: uint64(maxRetries), Timeout: timeout, InitialInterval: 2 * time.Second}
}

func (p *DocumentPublisher) Publish(ctx context.Context, asset *TransientAsset, dest Destination, name, caption string) (PublishResult, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)

	attempts := 0
	var msgID int
	op := func() error {
		attempts++
		id, err := p.sendOnce(ctx, asset, dest, name, caption)
		if err != nil {
			return err
		}
		msgID = id
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("dest", dest.String()).Int("attempt", attempts).Dur("wait", wait).
			Msg("publish attempt failed; retrying")
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return PublishResult{}, &PublishError{Destination: dest, Bytes: asset.Size, Attempts: attempts, Err: err}
	}
	return PublishResult{Destination: dest, MessageID: msgID, Bytes: asset.Size, Attempts: attempts}, nil
}

func (p *DocumentPublisher) sendOnce(ctx context.Context, asset *TransientAsset, dest Destination, name, caption string) (int, error) {
	f, err := os.Open(asset.Path)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	defer f.Close()
	return p.Sender.SendDocument(ctx, dest, name, f, asset.Size, caption)
}
