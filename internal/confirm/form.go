package confirm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
)

const formWidth = 72

// BuildForm constructs the terminal form for one request. The selected
// decision is written to decision, which starts at Decline when empty.
func BuildForm(request Request, decision *Decision) *huh.Form {
	if decision == nil {
		decision = new(Decision)
	}
	if *decision == "" {
		*decision = Decline
	}

	fields := []huh.Field{
		huh.NewNote().
			Title(formTitle(request)).
			Description(formDescription(request)),
		huh.NewSelect[Decision]().
			Title("Send?").
			Options(decisionOptions()...).
			Value(decision),
	}
	return huh.NewForm(huh.NewGroup(fields...)).
		WithShowHelp(false).
		WithWidth(formWidth)
}

func decisionOptions() []huh.Option[Decision] {
	return []huh.Option[Decision]{
		huh.NewOption("Yes, send it", Accept),
		huh.NewOption("No, skip this one", Decline),
		huh.NewOption("Quit the session", Abort),
	}
}

func formTitle(request Request) string {
	title := fmt.Sprintf("Cycle %d: %s", request.Cycle, request.Intent.Kind)
	if subject := strings.TrimSpace(request.Subject); subject != "" {
		title += " on " + subject
	}
	return title
}

func formDescription(request Request) string {
	if comment := strings.TrimSpace(request.Intent.Comment); comment != "" {
		return fmt.Sprintf("Comment: %q", comment)
	}
	return "No comment attached."
}

// StartFormConsumer answers gate requests with an interactive form drawn on
// output. A form that cannot run, or that the operator escapes, answers the
// pending request with Abort and stops the consumer.
func StartFormConsumer(ctx context.Context, gate *Gate, input io.Reader, output io.Writer) <-chan struct{} {
	if input == nil {
		gate = nil
	}
	return consume(ctx, gate, output, func(ctx context.Context, request Request) (Response, bool) {
		return runForm(ctx, request, input, output)
	})
}

func runForm(ctx context.Context, request Request, input io.Reader, output io.Writer) (Response, bool) {
	decision := Decline
	form := BuildForm(request, &decision).
		WithInput(input).
		WithOutput(output)
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return Response{Decision: Abort, Note: "operator aborted"}, true
		}
		return Response{Decision: Abort, Note: err.Error()}, true
	}
	return Response{Decision: decision}, false
}
