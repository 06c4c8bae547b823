package confirm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// answerFunc resolves one request. stop ends the consumer after the answer
// is delivered.
type answerFunc func(ctx context.Context, request Request) (response Response, stop bool)

// consume feeds gate requests to answer until ctx ends or answer stops.
func consume(ctx context.Context, gate *Gate, output io.Writer, answer answerFunc) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if gate == nil || output == nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case request := <-gate.Requests():
				response, stop := answer(ctx, request)
				if err := gate.Respond(response); err != nil {
					writef(output, "invalid confirmation: %v\n", err)
				}
				if stop {
					return
				}
			}
		}
	}()
	return done
}

// StartStdioConsumer answers gate requests with a line prompt: y, n or q,
// where a blank line declines. The returned channel closes when ctx is done
// or input runs out, and running out answers the pending request with Abort.
func StartStdioConsumer(ctx context.Context, gate *Gate, input io.Reader, output io.Writer) <-chan struct{} {
	if input == nil {
		gate = nil
	}
	lines := bufio.NewScanner(input)
	return consume(ctx, gate, output, func(_ context.Context, request Request) (Response, bool) {
		writef(output, "%s\n%s\nSend? [y]es, [N]o, [q]uit\n> ", formTitle(request), formDescription(request))
		for lines.Scan() {
			answer := strings.TrimSpace(lines.Text())
			if answer == "" {
				return Response{Decision: Decline, Note: "default"}, false
			}
			if decision, err := ParseDecision(answer); err == nil {
				return Response{Decision: decision}, false
			}
			writef(output, "Choose: [y]es, [n]o, [q]uit\n> ")
		}
		writef(output, "input closed; aborting session\n")
		return Response{Decision: Abort, Note: "input closed"}, true
	})
}

func writef(output io.Writer, format string, values ...any) {
	_, _ = fmt.Fprintf(output, format, values...)
}
