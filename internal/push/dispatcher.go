package push

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/follower-tracker/internal/metrics"
	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

// Delivery outcomes reported to metrics.
const (
	OutcomeSent   = "sent"
	OutcomeGone   = "gone"
	OutcomeFailed = "failed"
)

// DefaultTTL is how long push services keep undelivered messages.
const DefaultTTL = 24 * time.Hour

// DeliveryError reports a non-success response from a push service.
type DeliveryError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("push to %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Config tunes delivery.
type Config struct {
	// TTL is sent as the TTL header, in seconds.
	TTL time.Duration
	// Encrypt seals payloads with aes128gcm when the subscription carries keys.
	Encrypt bool
	// Concurrency caps parallel deliveries per Send.
	Concurrency int
}

// Dispatcher sends notifications to every subscription of a user.
type Dispatcher struct {
	store  tracker.SubscriptionStore
	signer *Signer
	client *http.Client
	logger *zap.Logger
	cfg    Config
	rand   io.Reader
}

// NewDispatcher wires a dispatcher. A nil client uses a 15s-timeout client.
func NewDispatcher(
	store tracker.SubscriptionStore,
	signer *Signer,
	client *http.Client,
	logger *zap.Logger,
	cfg Config,
) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("subscription store is required")
	}
	if signer == nil {
		return nil, errors.New("vapid signer is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	metrics.Init()
	return &Dispatcher{
		store:  store,
		signer: signer,
		client: client,
		logger: logger,
		cfg:    cfg,
		rand:   rand.Reader,
	}, nil
}

// PublicKey returns the VAPID application server key.
func (d *Dispatcher) PublicKey() string {
	return d.signer.PublicKey()
}

// Send delivers n to each of the user's subscriptions and returns how many
// deliveries succeeded. Subscriptions answering 404 or 410 are deleted;
// other failures are logged and skipped.
func (d *Dispatcher) Send(ctx context.Context, userID string, n tracker.Notification) (int, error) {
	subs, err := d.store.ListSubscriptions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return 0, fmt.Errorf("marshal notification: %w", err)
	}

	var sent atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for _, sub := range subs {
		g.Go(func() error {
			err := d.Deliver(ctx, sub, payload)
			switch {
			case err == nil:
				sent.Add(1)
				metrics.ObservePush(OutcomeSent)
			case errors.Is(err, tracker.ErrEndpointGone):
				metrics.ObservePush(OutcomeGone)
				if delErr := d.store.DeleteSubscription(ctx, sub.ID); delErr != nil && !errors.Is(delErr, tracker.ErrNotFound) {
					d.logger.Warn("prune subscription failed",
						zap.String("subscription_id", sub.ID),
						zap.Error(delErr),
					)
				} else {
					d.logger.Info("pruned expired subscription", zap.String("subscription_id", sub.ID))
				}
			default:
				metrics.ObservePush(OutcomeFailed)
				d.logger.Warn("push delivery failed",
					zap.String("subscription_id", sub.ID),
					zap.String("user_id", userID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(sent.Load()), nil
}

// Deliver posts payload to a single subscription endpoint. It returns
// tracker.ErrEndpointGone for 404/410 and *DeliveryError for other non-2xx.
func (d *Dispatcher) Deliver(ctx context.Context, sub tracker.PushSubscription, payload []byte) error {
	auth, err := d.signer.Authorization(sub.Endpoint)
	if err != nil {
		return err
	}
	body := payload
	encrypted := false
	if d.cfg.Encrypt && sub.P256dh != "" && sub.Auth != "" {
		body, err = Encrypt(d.rand, payload, sub.P256dh, sub.Auth)
		if err != nil {
			return fmt.Errorf("encrypt payload: %w", err)
		}
		encrypted = true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("TTL", strconv.Itoa(int(d.cfg.TTL/time.Second)))
	req.Header.Set("Content-Type", "application/octet-stream")
	if encrypted {
		req.Header.Set("Content-Encoding", ContentEncoding)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to push service: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: status %d", tracker.ErrEndpointGone, resp.StatusCode)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &DeliveryError{Endpoint: sub.Endpoint, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
}
