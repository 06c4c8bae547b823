// Package confirm asks an operator to approve irreversible actions before the
// session sends them.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/feedpilot/feedpilot/internal/action"
)

const defaultGateBuffer = 1

// Decision is the operator's answer to one confirmation request.
type Decision string

const (
	// Accept lets the intent execute.
	Accept Decision = "accept"
	// Decline skips the intent for this cycle only.
	Decline Decision = "decline"
	// Abort ends the session.
	Abort Decision = "abort"
)

// ParseDecision normalizes operator input. Unknown values are rejected.
func ParseDecision(value string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "accept", "a", "y", "yes":
		return Accept, nil
	case "decline", "d", "n", "no", "skip":
		return Decline, nil
	case "abort", "q", "quit":
		return Abort, nil
	default:
		return "", fmt.Errorf("invalid confirmation decision %q", value)
	}
}

// Request describes the intent awaiting confirmation.
type Request struct {
	SessionID string
	Cycle     int
	Intent    action.Intent
	Subject   string
}

// Response is the operator's answer.
type Response struct {
	Decision Decision
	Note     string
}

// Record captures one request/response interaction.
type Record struct {
	Request    Request
	Response   Response
	AskedAt    time.Time
	AnsweredAt time.Time
}

// Gate is a blocking confirmation gate. Requests are read by a consumer such
// as the stdio prompt, which answers through Respond.
type Gate struct {
	requests  chan Request
	responses chan Response
	now       func() time.Time

	mu      sync.Mutex
	history []Record
}

// NewGate constructs a blocking confirmation gate.
func NewGate(bufferSize int) *Gate {
	if bufferSize <= 0 {
		bufferSize = defaultGateBuffer
	}
	return &Gate{
		requests:  make(chan Request, bufferSize),
		responses: make(chan Response, bufferSize),
		now:       time.Now,
	}
}

// Requests exposes pending requests to a consumer.
func (g *Gate) Requests() <-chan Request {
	return g.requests
}

// Respond answers the pending request.
func (g *Gate) Respond(response Response) error {
	if g == nil {
		return errors.New("confirmation gate is nil")
	}
	decision, err := ParseDecision(string(response.Decision))
	if err != nil {
		return err
	}
	response.Decision = decision
	response.Note = strings.TrimSpace(response.Note)

	g.responses <- response
	return nil
}

// Confirm presents one request and blocks until the operator answers or ctx
// is done.
func (g *Gate) Confirm(ctx context.Context, request Request) (Decision, error) {
	if g == nil {
		return "", errors.New("confirmation gate is nil")
	}
	if err := request.Intent.Validate(); err != nil {
		return "", fmt.Errorf("confirm: %w", err)
	}
	request.Subject = strings.TrimSpace(request.Subject)
	askedAt := g.now().UTC()

	select {
	case g.requests <- request:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case response := <-g.responses:
		g.mu.Lock()
		g.history = append(g.history, Record{
			Request:    request,
			Response:   response,
			AskedAt:    askedAt,
			AnsweredAt: g.now().UTC(),
		})
		g.mu.Unlock()
		return response.Decision, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// History returns a copy of answered requests.
func (g *Gate) History() []Record {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Record, len(g.history))
	copy(out, g.history)
	return out
}

// Static answers every request with the same decision.
type Static Decision

// Confirm implements the session confirmer.
func (s Static) Confirm(ctx context.Context, _ Request) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return Decision(s), nil
}

// Scripted answers requests from a fixed sequence and repeats the last
// decision once the sequence is exhausted.
type Scripted struct {
	mu        sync.Mutex
	decisions []Decision
	asked     []Request
}

// NewScripted creates a scripted confirmer.
func NewScripted(decisions ...Decision) *Scripted {
	return &Scripted{decisions: decisions}
}

// Confirm implements the session confirmer.
func (s *Scripted) Confirm(ctx context.Context, request Request) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asked = append(s.asked, request)
	if len(s.decisions) == 0 {
		return Accept, nil
	}
	decision := s.decisions[0]
	if len(s.decisions) > 1 {
		s.decisions = s.decisions[1:]
	}
	return decision, nil
}

// Asked returns every request seen so far.
func (s *Scripted) Asked() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.asked))
	copy(out, s.asked)
	return out
}
