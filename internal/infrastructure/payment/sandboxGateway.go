package payment

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SandboxGateway is an in-process stand-in for PayPal. Intents must be
// approved with Approve before they can be captured, and capture is
// idempotent per intent.
type SandboxGateway struct {
	mu      sync.RWMutex
	intents map[string]*sandboxIntent
	byRef   map[string]string

	baseURL    string
	chaos      bool
	chaosDelay time.Duration
	roll       func() int
	log        logrus.FieldLogger

	createErr    error
	captureErr   error
	lookupErr    error
	captureCalls int
}

type sandboxIntent struct {
	id          string
	referenceID string
	amount      string
	status      IntentStatus
	payerID     string
	captureID   string
}

type SandboxOption func(*SandboxGateway)

// WithChaos makes Capture misbehave the way a real provider does: 70% of
// captures succeed, 20% are declined and 10% charge the buyer but hang for
// delay and then report a timeout.
func WithChaos(delay time.Duration) SandboxOption {
	return func(g *SandboxGateway) {
		g.chaos = true
		g.chaosDelay = delay
	}
}

// WithRoll replaces the random source used by chaos mode. roll returns 0..99.
func WithRoll(roll func() int) SandboxOption {
	return func(g *SandboxGateway) { g.roll = roll }
}

func WithApprovalBaseURL(baseURL string) SandboxOption {
	return func(g *SandboxGateway) { g.baseURL = strings.TrimRight(baseURL, "/") }
}

func NewSandboxGateway(log logrus.FieldLogger, opts ...SandboxOption) *SandboxGateway {
	g := &SandboxGateway{
		intents: make(map[string]*sandboxIntent),
		byRef:   make(map[string]string),
		baseURL: "https://sandbox.local",
		roll:    func() int { return rand.Intn(100) },
		log:     log.WithField("component", "sandbox_gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *SandboxGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, &GatewayError{Op: "create intent", Err: err}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.createErr != nil {
		return nil, g.createErr
	}

	// same reference id, same intent
	if id, ok := g.byRef[req.ReferenceID]; ok && req.ReferenceID != "" {
		in := g.intents[id]
		return &Intent{ID: in.id, Status: in.status, ApprovalURL: g.approvalURL(in.id)}, nil
	}

	in := &sandboxIntent{
		id:          "SBX-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:17]),
		referenceID: req.ReferenceID,
		amount:      req.Amount,
		status:      IntentCreated,
	}
	g.intents[in.id] = in
	if req.ReferenceID != "" {
		g.byRef[req.ReferenceID] = in.id
	}

	return &Intent{ID: in.id, Status: in.status, ApprovalURL: g.approvalURL(in.id)}, nil
}

func (g *SandboxGateway) approvalURL(id string) string {
	return g.baseURL + "/checkoutnow?token=" + id
}

// Approve records the buyer's approval of an intent.
func (g *SandboxGateway) Approve(remoteID, payerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	in, ok := g.intents[remoteID]
	if !ok {
		return ErrIntentNotFound
	}
	if in.status != IntentCreated && in.status != IntentApproved {
		return errors.New("intent is " + string(in.status))
	}
	in.status = IntentApproved
	in.payerID = payerID
	return nil
}

// Void cancels an uncaptured intent, as the provider does when approval
// expires.
func (g *SandboxGateway) Void(remoteID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	in, ok := g.intents[remoteID]
	if !ok {
		return ErrIntentNotFound
	}
	if in.status == IntentCompleted {
		return ErrAlreadyCaptured
	}
	in.status = IntentVoided
	return nil
}

func (g *SandboxGateway) Capture(ctx context.Context, remoteID string) (*Capture, error) {
	g.mu.Lock()
	g.captureCalls++
	if g.captureErr != nil {
		err := g.captureErr
		g.mu.Unlock()
		return nil, err
	}

	in, ok := g.intents[remoteID]
	if !ok {
		g.mu.Unlock()
		return nil, &GatewayError{Op: "capture", StatusCode: 404, Issue: "RESOURCE_NOT_FOUND", Err: ErrIntentNotFound}
	}
	switch in.status {
	case IntentCompleted:
		g.mu.Unlock()
		return nil, &GatewayError{Op: "capture", StatusCode: 422, Issue: "ORDER_ALREADY_CAPTURED", Err: ErrAlreadyCaptured}
	case IntentApproved:
	default:
		g.mu.Unlock()
		return nil, &GatewayError{Op: "capture", StatusCode: 422, Issue: "ORDER_NOT_APPROVED", Err: ErrNotApproved}
	}

	if !g.chaos {
		capture := g.complete(in)
		g.mu.Unlock()
		return capture, nil
	}

	chance := g.roll()
	switch {
	case chance < 70:
		capture := g.complete(in)
		g.mu.Unlock()
		return capture, nil

	case chance < 90:
		g.mu.Unlock()
		return nil, &GatewayError{Op: "capture", StatusCode: 422, Issue: "INSTRUMENT_DECLINED", Err: errors.New("card declined")}

	default:
		// the buyer is charged but the response never arrives
		g.complete(in)
		g.mu.Unlock()
		g.log.WithFields(logrus.Fields{
			"payment_id":   in.id,
			"reference_id": in.referenceID,
		}).Warn("sandbox charged the buyer and is timing out the response")

		timer := time.NewTimer(g.chaosDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, &GatewayError{Op: "capture", Err: ctx.Err()}
		case <-timer.C:
			return nil, &GatewayError{Op: "capture", Transient: true, Err: errors.New("connection timeout")}
		}
	}
}

// complete must be called with g.mu held.
func (g *SandboxGateway) complete(in *sandboxIntent) *Capture {
	in.status = IntentCompleted
	in.captureID = "CAP-" + strings.ToUpper(uuid.NewString()[:8])
	return &Capture{ID: in.id, Status: in.status, PayerID: in.payerID, CaptureID: in.captureID}
}

func (g *SandboxGateway) Lookup(ctx context.Context, remoteID string) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, &GatewayError{Op: "lookup", Err: err}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.lookupErr != nil {
		return nil, g.lookupErr
	}
	in, ok := g.intents[remoteID]
	if !ok {
		return nil, &GatewayError{Op: "lookup", StatusCode: 404, Issue: "RESOURCE_NOT_FOUND", Err: ErrIntentNotFound}
	}
	return &Intent{ID: in.id, Status: in.status, PayerID: in.payerID}, nil
}

// SetCreateError makes every CreateIntent call fail with err until reset
// with nil.
func (g *SandboxGateway) SetCreateError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createErr = err
}

func (g *SandboxGateway) SetCaptureError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureErr = err
}

func (g *SandboxGateway) SetLookupError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookupErr = err
}

// CaptureCalls reports how many times Capture was invoked.
func (g *SandboxGateway) CaptureCalls() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.captureCalls
}

// IntentCount reports how many intents were created.
func (g *SandboxGateway) IntentCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.intents)
}

// Status returns the provider-side status of an intent.
func (g *SandboxGateway) Status(remoteID string) IntentStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if in, ok := g.intents[remoteID]; ok {
		return in.status
	}
	return ""
}
