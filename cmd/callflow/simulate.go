package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dukex/callflow/pkg/engine"
	"github.com/dukex/callflow/pkg/flowfile"
	"github.com/dukex/callflow/pkg/log"
	"github.com/dukex/callflow/pkg/models"
)

type simulateOptions struct {
	path      string
	inputs    []string
	stepDelay time.Duration
	maxSteps  int
	liveCalls bool
	in        io.Reader
	out       io.Writer
}

// runSimulate loads a flow file and plays it as a caller.
func runSimulate(ctx context.Context, opts simulateOptions) error {
	flow, err := flowfile.Load(opts.path)
	if err != nil {
		return err
	}

	logger := log.WithModule("simulate")
	engineOpts := []engine.Option{engine.WithMaxSteps(opts.maxSteps), engine.WithLogger(logger)}

	if opts.liveCalls {
		engineOpts = append(engineOpts, engine.WithAPICaller(engine.NewHTTPCaller(logger)))
	}

	session, err := simulate(ctx, engine.New(engineOpts...), flow, opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(opts.out, "session %s %s after %d steps\n", session.ID, session.Status, session.Steps)

	if session.Failure != nil {
		return fmt.Errorf("%s: %s", session.Failure.Kind, session.Failure.Message)
	}

	return nil
}

// simulate steps the session one node at a time, pausing stepDelay between
// nodes, and answers prompts from the scripted inputs and then from in.
func simulate(ctx context.Context, eng *engine.Engine, flow *models.Flow, opts simulateOptions) (*models.Session, error) {
	session, err := eng.Prepare(ctx, flow)
	if err != nil {
		return nil, err
	}

	inputs := opts.inputs
	reader := bufio.NewReader(opts.in)
	printed := 0

	for !session.Status.IsTerminal() {
		switch session.Status {
		case models.SessionStatusRunning:
			if printed > 0 && opts.stepDelay > 0 {
				select {
				case <-ctx.Done():
					return eng.Stop(session), ctx.Err()
				case <-time.After(opts.stepDelay):
				}
			}

			session, err = eng.Advance(ctx, flow, session)
		case models.SessionStatusAwaitingInput:
			value, rest, inErr := nextInput(inputs, reader, opts.out)
			if errors.Is(inErr, io.EOF) {
				// Caller hung up.
				session = eng.Stop(session)

				break
			}

			if inErr != nil {
				return nil, inErr
			}

			inputs = rest
			session, err = eng.Accept(ctx, flow, session, value)
		}

		if err != nil {
			return nil, err
		}

		for _, ev := range session.EventsSince(printed) {
			printEvent(opts.out, ev)
			printed = ev.Seq
		}
	}

	return session, nil
}

func nextInput(scripted []string, reader *bufio.Reader, out io.Writer) (string, []string, error) {
	if len(scripted) > 0 {
		return scripted[0], scripted[1:], nil
	}

	fmt.Fprint(out, "> ")

	line, err := reader.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", nil, err
	}

	return strings.TrimSpace(line), nil, nil
}

func printEvent(out io.Writer, ev models.Event) {
	switch ev.Kind {
	case models.EventNodeEntered:
		fmt.Fprintf(out, "[%d] -> %s (%s)\n", ev.Seq, ev.Label, ev.NodeType)
	default:
		if ev.Text != "" {
			fmt.Fprintf(out, "[%d] %s: %s\n", ev.Seq, ev.Kind, ev.Text)
		} else {
			fmt.Fprintf(out, "[%d] %s\n", ev.Seq, ev.Kind)
		}
	}
}
