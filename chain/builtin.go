package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/cadencehq/cadence/command"
	"github.com/cadencehq/cadence/store"
)

// SignalParser extracts structured signals (action items, decisions, notes)
// from raw meeting text. The real parser lives outside this module; hosts
// inject their own.
type SignalParser func(ctx context.Context, text string) ([]map[string]any, error)

// Asker performs one model call on behalf of a step that needs generated
// text. Typically backed by an agent's AskLLM.
type Asker func(ctx context.Context, prompt string) (string, error)

// BuiltinOptions configures the built-in chains.
type BuiltinOptions struct {
	// Parser used by parse_signals. Defaults to a line-based parser that
	// treats every non-empty line as one note signal.
	Parser SignalParser

	// Asker used by suggest_improvements. When nil the step fails, which
	// is tolerated because the step sits on the non-critical allow-list.
	Asker Asker
}

// RegisterBuiltins registers the stock productivity chains and their step
// handlers against a record store:
//
//	quick-ticket:     create_ticket → add_to_sprint
//	meeting-pipeline: parse_signals → create_tickets → promote_signals → suggest_improvements
func RegisterBuiltins(e *Executor, s store.RecordStore, optFns ...func(o *BuiltinOptions)) error {
	opts := BuiltinOptions{Parser: lineParser}

	for _, fn := range optFns {
		fn(&opts)
	}

	if err := e.RegisterChain(Definition{
		Name:        "quick-ticket",
		Description: "Create a ticket and add it to the current sprint.",
		Steps:       []string{"create_ticket", "add_to_sprint"},
	}); err != nil {
		return err
	}

	if err := e.RegisterChain(Definition{
		Name:        "meeting-pipeline",
		Description: "Turn a meeting transcript into signals, tickets and follow-up suggestions.",
		Steps:       []string{"parse_signals", "create_tickets", "promote_signals", "suggest_improvements"},
	}); err != nil {
		return err
	}

	e.RegisterHandler("create_ticket", createTicketHandler(s))
	e.RegisterHandler("add_to_sprint", addToSprintHandler(s))
	e.RegisterHandler("parse_signals", parseSignalsHandler(opts.Parser))
	e.RegisterHandler("create_tickets", createTicketsHandler(s))
	e.RegisterHandler("promote_signals", promoteSignalsHandler(s))
	e.RegisterHandler("suggest_improvements", suggestImprovementsHandler(opts.Asker))

	return e.Verify()
}

func createTicketHandler(s store.RecordStore) StepHandler {
	return func(ctx context.Context, args map[string]any, _ map[string]any) (any, error) {
		title, err := command.StringArg(args, "title")
		if err != nil {
			return nil, err
		}

		rec := store.Record{
			"title":  title,
			"status": "open",
		}
		if desc, ok := args["description"].(string); ok {
			rec["description"] = desc
		}
		if prio, ok := args["priority"].(string); ok {
			rec["priority"] = prio
		}

		id, err := s.Insert(ctx, "tickets", rec)
		if err != nil {
			return nil, fmt.Errorf("create ticket: %w", err)
		}

		return map[string]any{"ticket_id": id, "title": title}, nil
	}
}

func addToSprintHandler(s store.RecordStore) StepHandler {
	return func(ctx context.Context, args map[string]any, prev map[string]any) (any, error) {
		id := ticketIDFrom(args, prev)
		if id == "" {
			return nil, fmt.Errorf("%w: missing ticket_id", command.ErrBadArguments)
		}

		sprint, _ := args["sprint"].(string)
		if sprint == "" {
			sprint = "current"
		}

		if err := s.Update(ctx, "tickets", id, store.Record{"sprint": sprint}); err != nil {
			return nil, fmt.Errorf("add ticket to sprint: %w", err)
		}

		return map[string]any{
			"ticket_id":   id,
			"sprint":      sprint,
			"navigate_to": "/tickets/" + id,
		}, nil
	}
}

// ticketIDFrom resolves the ticket id from the chain arguments, falling back
// to the create_ticket step's output.
func ticketIDFrom(args, prev map[string]any) string {
	if id, ok := args["ticket_id"].(string); ok && id != "" {
		return id
	}

	created, ok := prev["create_ticket"].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := created["ticket_id"].(string)
	return id
}

func parseSignalsHandler(parse SignalParser) StepHandler {
	return func(ctx context.Context, args map[string]any, _ map[string]any) (any, error) {
		text, err := command.StringArg(args, "transcript")
		if err != nil {
			return nil, err
		}

		signals, err := parse(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("parse signals: %w", err)
		}

		return map[string]any{"signals": signals, "count": len(signals)}, nil
	}
}

func createTicketsHandler(s store.RecordStore) StepHandler {
	return func(ctx context.Context, _ map[string]any, prev map[string]any) (any, error) {
		signals := signalsFrom(prev)

		var ids []string
		for _, sig := range signals {
			kind, _ := sig["kind"].(string)
			if kind != "action_item" {
				continue
			}

			title, _ := sig["text"].(string)
			id, err := s.Insert(ctx, "tickets", store.Record{
				"title":  title,
				"status": "open",
				"source": "meeting",
			})
			if err != nil {
				return nil, fmt.Errorf("create ticket from signal: %w", err)
			}
			ids = append(ids, id)
		}

		return map[string]any{"ticket_ids": ids, "count": len(ids)}, nil
	}
}

func promoteSignalsHandler(s store.RecordStore) StepHandler {
	return func(ctx context.Context, _ map[string]any, prev map[string]any) (any, error) {
		signals := signalsFrom(prev)

		var ids []string
		for _, sig := range signals {
			rec := make(store.Record, len(sig))
			for k, v := range sig {
				rec[k] = v
			}

			id, err := s.Insert(ctx, "signals", rec)
			if err != nil {
				return nil, fmt.Errorf("promote signal: %w", err)
			}
			ids = append(ids, id)
		}

		return map[string]any{"signal_ids": ids, "count": len(ids)}, nil
	}
}

func suggestImprovementsHandler(ask Asker) StepHandler {
	return func(ctx context.Context, _ map[string]any, prev map[string]any) (any, error) {
		if ask == nil {
			return nil, fmt.Errorf("no coaching model configured")
		}

		signals := signalsFrom(prev)

		var sb strings.Builder
		sb.WriteString("Based on these meeting signals, suggest process improvements:\n")
		for _, sig := range signals {
			text, _ := sig["text"].(string)
			fmt.Fprintf(&sb, "- %s\n", text)
		}

		suggestion, err := ask(ctx, sb.String())
		if err != nil {
			return nil, fmt.Errorf("suggest improvements: %w", err)
		}

		return map[string]any{"suggestions": suggestion}, nil
	}
}

func signalsFrom(prev map[string]any) []map[string]any {
	parsed, ok := prev["parse_signals"].(map[string]any)
	if !ok {
		return nil
	}
	signals, _ := parsed["signals"].([]map[string]any)
	return signals
}

// lineParser is the fallback signal parser: one note signal per non-empty
// line, lines prefixed with "TODO" or "ACTION" classified as action items.
func lineParser(_ context.Context, text string) ([]map[string]any, error) {
	var signals []map[string]any
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		kind := "note"
		upper := strings.ToUpper(line)
		if strings.HasPrefix(upper, "TODO") || strings.HasPrefix(upper, "ACTION") {
			kind = "action_item"
		}

		signals = append(signals, map[string]any{"kind": kind, "text": line})
	}
	return signals, nil
}
