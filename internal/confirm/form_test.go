package confirm

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/feedpilot/feedpilot/internal/action"
)

func TestBuildFormDefaultsToDecline(t *testing.T) {
	t.Parallel()

	var decision Decision
	form := BuildForm(Request{Cycle: 1, Intent: action.Reject("no signal")}, &decision)
	if form == nil {
		t.Fatal("expected form")
	}
	if decision != Decline {
		t.Fatalf("decision = %q, want %q", decision, Decline)
	}

	chosen := Accept
	BuildForm(Request{Cycle: 1, Intent: action.Reject("no signal")}, &chosen)
	if chosen != Accept {
		t.Fatalf("preset decision overwritten: %q", chosen)
	}
}

func TestDecisionOptionsCoverEveryDecision(t *testing.T) {
	t.Parallel()

	options := decisionOptions()
	want := []Decision{Accept, Decline, Abort}
	if len(options) != len(want) {
		t.Fatalf("options = %d, want %d", len(options), len(want))
	}
	for i, option := range options {
		if option.Value != want[i] {
			t.Fatalf("option %d value = %q, want %q", i, option.Value, want[i])
		}
		if strings.TrimSpace(option.Key) == "" {
			t.Fatalf("option %d has empty label", i)
		}
	}
}

func TestFormTextDescribesRequest(t *testing.T) {
	t.Parallel()

	request := Request{
		Cycle:   4,
		Intent:  action.LikeWithComment(action.VariantNormal, "Nice trail photo", "comment entry located"),
		Subject: " Sam ",
	}
	if got := formTitle(request); got != "Cycle 4: like_with_comment on Sam" {
		t.Fatalf("title = %q", got)
	}
	if got := formDescription(request); got != `Comment: "Nice trail photo"` {
		t.Fatalf("description = %q", got)
	}

	bare := Request{Cycle: 2, Intent: action.Reject("no signal")}
	if got := formTitle(bare); got != "Cycle 2: reject" {
		t.Fatalf("title = %q", got)
	}
	if got := formDescription(bare); got != "No comment attached." {
		t.Fatalf("description = %q", got)
	}
}

func TestFormConsumerExits(t *testing.T) {
	t.Parallel()

	done := StartFormConsumer(context.Background(), nil, strings.NewReader(""), io.Discard)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not exit on nil gate")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done = StartFormConsumer(ctx, NewGate(1), strings.NewReader(""), io.Discard)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not exit on cancelled context")
	}
}
