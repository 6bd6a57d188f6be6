package alert

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/btouchard/beacon/internal/config"
)

// Ledger records which alert identifiers were published. ClaimAlert
// reports false when identifier is already recorded.
type Ledger interface {
	ClaimAlert(ctx context.Context, identifier string) (bool, error)
	ReleaseAlert(ctx context.Context, identifier string) error
}

// NtfyScheduler publishes alerts to an ntfy topic. Delivered messages cannot
// be retracted, so an identifier is published at most once until it is
// released.
type NtfyScheduler struct {
	client   *http.Client
	endpoint string
	token    string
	ledger   Ledger
}

// NewNtfyScheduler creates a scheduler publishing to cfg.Server/cfg.Topic.
// A nil ledger keeps published identifiers in memory.
func NewNtfyScheduler(cfg config.NtfyConfig, client *http.Client, ledger Ledger) (*NtfyScheduler, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("ntfy topic is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.Server, "/"))
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("invalid ntfy server %q", cfg.Server)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if ledger == nil {
		ledger = newMemoryLedger()
	}

	return &NtfyScheduler{
		client:   client,
		endpoint: base.JoinPath(cfg.Topic).String(),
		token:    cfg.Token,
		ledger:   ledger,
	}, nil
}

// Schedule publishes a unless its identifier is already claimed. The claim
// is recorded before publishing; a failed publish releases it.
func (s *NtfyScheduler) Schedule(ctx context.Context, a Alert) error {
	claimed, err := s.ledger.ClaimAlert(ctx, a.Identifier)
	if err != nil {
		return fmt.Errorf("claiming %s: %w", a.Identifier, err)
	}
	if !claimed {
		slog.Debug("ntfy alert already published", "identifier", a.Identifier)
		return nil
	}

	if err := s.publish(ctx, a); err != nil {
		if rerr := s.ledger.ReleaseAlert(ctx, a.Identifier); rerr != nil {
			slog.Warn("failed to release ntfy claim", "identifier", a.Identifier, "error", rerr)
		}
		return err
	}
	return nil
}

func (s *NtfyScheduler) publish(ctx context.Context, a Alert) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(a.Payload.Body))
	if err != nil {
		return err
	}

	req.Header.Set("Title", a.Payload.Title)
	req.Header.Set("Tags", tagsFor(a.Payload))
	if a.Payload.Reason == "mentioned" {
		req.Header.Set("Priority", "high")
	}
	if a.Payload.URL != "" {
		req.Header.Set("Click", a.Payload.URL)
	}
	if !a.Trigger.IsZero() {
		req.Header.Set("At", strconv.FormatInt(a.Trigger.Unix(), 10))
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("publishing to ntfy: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ntfy returned %s", resp.Status)
	}
	return nil
}

func tagsFor(p Payload) string {
	tags := []string{"beacon", p.Reason}
	if p.ResourceType != "" {
		tags = append(tags, string(p.ResourceType))
	}
	return strings.Join(tags, ",")
}

// Cancel releases identifier so it can be published again. ntfy has no
// retraction.
func (s *NtfyScheduler) Cancel(ctx context.Context, identifier string) error {
	return s.ledger.ReleaseAlert(ctx, identifier)
}

// Forget releases identifier once its notification is no longer unread.
func (s *NtfyScheduler) Forget(ctx context.Context, identifier string) error {
	return s.ledger.ReleaseAlert(ctx, identifier)
}

// SetBadgeCount is logged only; ntfy has no badge.
func (s *NtfyScheduler) SetBadgeCount(_ context.Context, n int) error {
	slog.Debug("ntfy badge count", "unread_count", n)
	return nil
}

type memoryLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{seen: make(map[string]struct{})}
}

func (l *memoryLedger) ClaimAlert(_ context.Context, identifier string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[identifier]; ok {
		return false, nil
	}
	l.seen[identifier] = struct{}{}
	return true, nil
}

func (l *memoryLedger) ReleaseAlert(_ context.Context, identifier string) error {
	l.mu.Lock()
	delete(l.seen, identifier)
	l.mu.Unlock()
	return nil
}

func (l *memoryLedger) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
