/**
 * @description
 * WebSocket log subscription for the watcher: a cancellable stream of
 * transaction signatures mentioning the receiver token account. The stream is
 * a channel so the consumer can be started and stopped deterministically; the
 * goroutine behind it redials with backoff for as long as the context lives.
 *
 * @dependencies
 * - github.com/gagliardetto/solana-go/rpc/ws: logsSubscribe over WebSocket.
 */

package solanaclient

import (
	"context"
	"log"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

const (
	subscriptionBuffer   = 64
	resubscribeBaseDelay = 2 * time.Second
	resubscribeMaxDelay  = 30 * time.Second
)

// SubscribeSignatures opens a logsSubscribe stream filtered to logs mentioning
// the receiver account and returns a channel of base58 signatures. The channel
// closes when ctx is cancelled. Failed transactions are dropped at this layer;
// everything else is independently verified downstream, so no ordering
// guarantee is needed or provided. The first dial happens synchronously so a
// bad WebSocket endpoint fails fast at startup.
func (v *Verifier) SubscribeSignatures(ctx context.Context) (<-chan string, error) {
	client, sub, err := v.openLogStream(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan string, subscriptionBuffer)
	go func() {
		defer close(ch)
		delay := resubscribeBaseDelay
		for {
			if client == nil {
				client, sub, err = v.openLogStream(ctx)
				if err != nil {
					log.Printf("level=warn component=solana msg=\"log resubscribe failed\" err=%v delay=%s", err, delay)
					if !sleepCtx(ctx, delay) {
						return
					}
					if delay < resubscribeMaxDelay {
						delay *= 2
					}
					continue
				}
				delay = resubscribeBaseDelay
			}

			got, err := sub.Recv(ctx)
			if err != nil {
				sub.Unsubscribe()
				client.Close()
				client = nil
				if ctx.Err() != nil {
					return
				}
				log.Printf("level=warn component=solana msg=\"log subscription dropped; reconnecting\" err=%v delay=%s", err, delay)
				if !sleepCtx(ctx, delay) {
					return
				}
				if delay < resubscribeMaxDelay {
					delay *= 2
				}
				continue
			}
			delay = resubscribeBaseDelay

			if got == nil {
				continue
			}
			if got.Value.Err != nil {
				// Transaction failed on-chain; nothing to credit.
				continue
			}
			select {
			case ch <- got.Value.Signature.String():
			case <-ctx.Done():
				sub.Unsubscribe()
				client.Close()
				return
			}
		}
	}()
	return ch, nil
}

func (v *Verifier) openLogStream(ctx context.Context) (*ws.Client, *ws.LogSubscription, error) {
	client, err := ws.Connect(ctx, v.wsURL)
	if err != nil {
		return nil, nil, err
	}
	sub, err := client.LogsSubscribeMentions(v.receiver, rpc.CommitmentConfirmed)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, sub, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
