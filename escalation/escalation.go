// Package escalation bubbles an unanswerable question up the org
// hierarchy until a superior answers it, the operator is reached, or the
// hop cap trips.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// QuestionPrefix marks a reply that is itself a question for the next
// superior up.
const QuestionPrefix = "[QUESTION]"

// DefaultMaxHops bounds one escalation chain.
const DefaultMaxHops = 15

// OperatorID is the answerer recorded when the human operator replies.
const OperatorID = "operator"

// Kind classifies how a chain ended.
type Kind string

const (
	KindAnswered Kind = "answered" // a superior or the operator replied
	KindOperator Kind = "operator" // surfaced to the operator, no answer yet
	KindHalted   Kind = "halted"   // hop cap reached
)

// HaltedMessage is the result text of a chain stopped by the hop cap.
const HaltedMessage = "process halted, possible loop"

// Outcome is the result of one escalation chain.
type Outcome struct {
	Kind       Kind     `json:"kind"`
	Answer     string   `json:"answer,omitempty"`
	AnsweredBy string   `json:"answered_by,omitempty"`
	Question   string   `json:"question"` // last form of the question
	Hops       int      `json:"hops"`
	Path       []string `json:"path"` // superiors consulted, in order
}

// Hierarchy exposes the reporting lines.
type Hierarchy interface {
	Parent(id string) string
	Human(id string) bool
}

// Responder asks one superior to answer a framed question.
type Responder interface {
	Respond(ctx context.Context, agentID, prompt string) (string, error)
}

// Operator is the human fallback at the top of the hierarchy. An empty
// answer means the question was handed over but not yet answered.
type Operator interface {
	Ask(ctx context.Context, fromID, question string) (string, error)
}

// Memorizer records resolved answers.
type Memorizer interface {
	Memorize(ctx context.Context, text string, meta map[string]string) error
}

// Config wires a Chain.
type Config struct {
	Hierarchy Hierarchy
	Responder Responder
	Operator  Operator  // optional
	Memory    Memorizer // optional
	MaxHops   int
	Logger    *slog.Logger
}

// Chain runs escalations. It holds no per-chain state: every call to
// Escalate carries its own hop counter, so chains never interfere.
type Chain struct {
	hierarchy Hierarchy
	responder Responder
	operator  Operator
	memory    Memorizer
	maxHops   int
	logger    *slog.Logger
	title     cases.Caser
}

// New creates a Chain.
func New(cfg Config) *Chain {
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = DefaultMaxHops
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Chain{
		hierarchy: cfg.Hierarchy,
		responder: cfg.Responder,
		operator:  cfg.Operator,
		memory:    cfg.Memory,
		maxHops:   cfg.MaxHops,
		logger:    cfg.Logger,
		title:     cases.Title(language.English),
	}
}

// Escalate hands question from agent fromID to its superior and keeps
// climbing while superiors reply with another question.
func (c *Chain) Escalate(ctx context.Context, fromID, question string) (Outcome, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Outcome{}, fmt.Errorf("escalate from %s: empty question", fromID)
	}

	out := Outcome{Question: question}
	current := fromID
	for {
		superior := c.hierarchy.Parent(current)
		if superior == "" || c.hierarchy.Human(superior) {
			return c.surface(ctx, fromID, out)
		}

		if out.Hops >= c.maxHops {
			out.Kind = KindHalted
			out.Answer = HaltedMessage
			c.logger.Warn("escalation halted",
				slog.String("agent_id", fromID),
				slog.Int("hops", out.Hops),
				slog.String("question", out.Question))
			return out, nil
		}
		out.Hops++
		out.Path = append(out.Path, superior)

		reply, err := c.responder.Respond(ctx, superior, c.Frame(fromID, current, superior, out.Question))
		if err != nil {
			return out, fmt.Errorf("escalate to %s: %w", superior, err)
		}
		reply = strings.TrimSpace(reply)

		if next, ok := strings.CutPrefix(reply, QuestionPrefix); ok {
			if next = strings.TrimSpace(next); next != "" {
				out.Question = next
			}
			c.logger.Info("escalation continues",
				slog.String("agent_id", fromID),
				slog.String("from", superior),
				slog.Int("hops", out.Hops))
			current = superior
			continue
		}

		out.Kind = KindAnswered
		out.Answer = reply
		out.AnsweredBy = superior
		c.record(ctx, fromID, out)
		return out, nil
	}
}

// surface hands the question to the operator at the top of the hierarchy.
func (c *Chain) surface(ctx context.Context, fromID string, out Outcome) (Outcome, error) {
	out.Kind = KindOperator
	if c.operator == nil {
		return out, nil
	}
	answer, err := c.operator.Ask(ctx, fromID, out.Question)
	if err != nil {
		return out, fmt.Errorf("ask operator: %w", err)
	}
	if answer = strings.TrimSpace(answer); answer == "" {
		return out, nil
	}
	out.Kind = KindAnswered
	out.Answer = answer
	out.AnsweredBy = OperatorID
	c.record(ctx, fromID, out)
	return out, nil
}

func (c *Chain) record(ctx context.Context, fromID string, out Outcome) {
	if c.memory == nil {
		return
	}
	fact := fmt.Sprintf("Q: %s\nA: %s", out.Question, out.Answer)
	meta := map[string]string{
		"category":    "escalation",
		"asked_by":    fromID,
		"answered_by": out.AnsweredBy,
	}
	if err := c.memory.Memorize(ctx, fact, meta); err != nil {
		c.logger.Warn("escalation answer not memorized",
			slog.String("agent_id", fromID),
			slog.String("error", err.Error()))
	}
}

// Frame renders the question as a structured query for superior.
func (c *Chain) Frame(originID, fromID, superior, question string) string {
	fields := [][2]string{
		{"requested_by", originID},
		{"relayed_by", fromID},
		{"direction", "upward"},
		{"key_question", question},
	}
	if originID == fromID {
		fields = append(fields[:1], fields[2:]...)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your subordinate needs clarification. You have received a new task formatted as a 'QUERY' for %s.\n", superior)
	b.WriteString("--- Task Details ---\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "- %s: %s\n", c.title.String(strings.ReplaceAll(f[0], "_", " ")), f[1])
	}
	b.WriteString("--------------------\n")
	b.WriteString("If you can answer, reply with the answer only. If you cannot, reply with " +
		QuestionPrefix + " followed by the question you need your own superior to answer.")
	return b.String()
}
