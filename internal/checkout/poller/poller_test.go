package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/veracify/veracify/internal/checkout/domain"
	ledgerdomain "github.com/veracify/veracify/internal/ledger/domain"
)

// scriptedCheckout returns canned session states for successive
// CheckStatus calls, repeating the last one when the script drains.
type scriptedCheckout struct {
	mu      sync.Mutex
	script  []domain.Status
	errs    []error
	calls   int
	session domain.Session
}

func (s *scriptedCheckout) CheckStatus(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	status := s.script[len(s.script)-1]
	if idx < len(s.script) {
		status = s.script[idx]
	}
	session := s.session
	session.SessionID = sessionID
	session.Status = status
	return &session, nil
}

func (s *scriptedCheckout) CreateSession(ctx context.Context, accountID snowflake.ID, input domain.CreateSessionInput) (*domain.Session, error) {
	return nil, errors.New("not implemented")
}

func (s *scriptedCheckout) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	return nil, errors.New("not implemented")
}

func (s *scriptedCheckout) Sessions(ctx context.Context, accountID snowflake.ID, limit int) ([]domain.Session, error) {
	return nil, errors.New("not implemented")
}

func (s *scriptedCheckout) Resolve(ctx context.Context, sessionID string, status domain.Status) (*domain.Session, error) {
	return nil, errors.New("not implemented")
}

func (s *scriptedCheckout) Cancel(ctx context.Context, sessionID string) (*domain.Session, error) {
	return nil, errors.New("not implemented")
}

func (s *scriptedCheckout) PurchasePackDirect(ctx context.Context, accountID snowflake.ID, packID, reason string) (*ledgerdomain.CreditTransaction, error) {
	return nil, errors.New("not implemented")
}

func newTestPoller(checkout domain.Service) *Poller {
	return New(Config{Interval: time.Millisecond, Attempts: 10}, zap.NewNop(), checkout, nil)
}

func TestPollPaidOnThirdAttempt(t *testing.T) {
	checkout := &scriptedCheckout{
		script: []domain.Status{domain.StatusPending, domain.StatusPending, domain.StatusPaid},
	}
	p := newTestPoller(checkout)

	outcome, session, err := p.Poll(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if outcome != OutcomePaid {
		t.Fatalf("expected paid outcome, got %s", outcome)
	}
	if session.Status != domain.StatusPaid {
		t.Fatalf("expected paid session, got %s", session.Status)
	}
	if checkout.calls != 3 {
		t.Fatalf("expected 3 status checks, got %d", checkout.calls)
	}
}

func TestPollTimeoutAfterTenAttempts(t *testing.T) {
	checkout := &scriptedCheckout{script: []domain.Status{domain.StatusPending}}
	p := newTestPoller(checkout)

	outcome, session, err := p.Poll(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if outcome != OutcomeTimeout {
		t.Fatalf("expected timeout outcome, got %s", outcome)
	}
	if session.Status != domain.StatusPending {
		t.Fatalf("timeout must leave the session pending, got %s", session.Status)
	}
	if checkout.calls != 10 {
		t.Fatalf("expected exactly 10 status checks, got %d", checkout.calls)
	}
}

func TestPollNonSuccessTerminal(t *testing.T) {
	checkout := &scriptedCheckout{
		script: []domain.Status{domain.StatusPending, domain.StatusExpired},
	}
	p := newTestPoller(checkout)

	outcome, session, err := p.Poll(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if outcome != OutcomeNotCompleted {
		t.Fatalf("expected not_completed outcome, got %s", outcome)
	}
	if session.Status != domain.StatusExpired {
		t.Fatalf("expected expired session, got %s", session.Status)
	}
}

func TestPollRetriesTransientProviderErrors(t *testing.T) {
	providerErr := domain.ErrProviderUnavailable
	checkout := &scriptedCheckout{
		script: []domain.Status{domain.StatusPending, domain.StatusPending, domain.StatusPaid},
		errs:   []error{providerErr, nil, nil},
	}
	p := newTestPoller(checkout)

	outcome, _, err := p.Poll(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if outcome != OutcomePaid {
		t.Fatalf("expected paid after transient error, got %s", outcome)
	}
}

func TestPollErrorOutcomeOnCancelledContext(t *testing.T) {
	checkout := &scriptedCheckout{script: []domain.Status{domain.StatusPending}}
	p := newTestPoller(checkout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, _, err := p.Poll(ctx, "cs_test_1")
	if outcome != OutcomeError {
		t.Fatalf("expected error outcome, got %s", outcome)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
