package router

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/pmanko/med-agent-hub/internal/llm"
	"github.com/pmanko/med-agent-hub/internal/tools"
)

// State names the stages of one routed request.
type State string

const (
	StateRouting         State = "ROUTING"
	StateParamExtraction State = "PARAM_EXTRACTION"
	StateToolInvoke      State = "TOOL_INVOKE"
	StateSynthesis       State = "SYNTHESIS"
	StateDone            State = "DONE"
	StateFailed          State = "FAILED"
)

// Outcome is the terminal result of one routed request. State is DONE or
// FAILED; Err is set iff FAILED. ToolError carries the tool's own failure
// text when the tool failed but the request still completed with the error
// reported as the answer.
type Outcome struct {
	State     State
	Skill     string
	Tool      string
	Answer    string
	ToolError string
	Err       error
}

// Config assembles a Router. KeywordFallback, when set, picks a skill from
// the raw query if routing produced nothing usable; when nil, unusable
// routing output goes to the generic direct-answer path instead.
type Config struct {
	Oracle          llm.Oracle
	Registry        *tools.Registry
	Skills          []Skill
	KeywordFallback func(query string) string
	Logger          *zap.Logger
}

// Router drives one query through routing, parameter extraction, tool
// invocation, and synthesis. Each request is a single sequential chain;
// concurrent requests share the registry and skills read-only.
type Router struct {
	oracle   llm.Oracle
	registry *tools.Registry
	skills   []Skill
	byName   map[string]Skill
	fallback func(query string) string
	logger   *zap.Logger
}

func New(cfg Config) *Router {
	byName := make(map[string]Skill, len(cfg.Skills))
	for _, s := range cfg.Skills {
		byName[s.Name] = s
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		oracle:   cfg.Oracle,
		registry: cfg.Registry,
		skills:   cfg.Skills,
		byName:   byName,
		fallback: cfg.KeywordFallback,
		logger:   logger,
	}
}

// Handle runs the full state machine for one query. Oracle transport
// failures are terminal; malformed oracle output never is.
func (r *Router) Handle(ctx context.Context, query string) Outcome {
	skillName, err := r.route(ctx, query)
	if err != nil {
		return Outcome{State: StateFailed, Err: fmt.Errorf("routing: %w", err)}
	}

	skill, known := r.byName[skillName]
	if !known {
		r.logger.Info("no skill matched, answering directly", zap.String("routed", skillName))
		return r.directAnswer(ctx, skillName, query)
	}

	r.logger.Info("routed query", zap.String("skill", skill.Name), zap.String("tool", skill.Tool))

	params, err := r.extractParams(ctx, skill, query)
	if err != nil {
		return Outcome{State: StateFailed, Skill: skill.Name, Err: fmt.Errorf("parameter extraction: %w", err)}
	}

	tool := r.registry.Get(skill.Tool)
	if tool == nil {
		// Deployment misconfiguration, reported rather than retried.
		return Outcome{
			State: StateFailed,
			Skill: skill.Name,
			Tool:  skill.Tool,
			Err:   fmt.Errorf("tool %q is not registered for skill %q", skill.Tool, skill.Name),
		}
	}

	result := tools.SafeInvoke(ctx, tool, params, r.logger)
	if !result.Success {
		// The tool's own error text is the final answer; no synthesis.
		return Outcome{
			State:     StateDone,
			Skill:     skill.Name,
			Tool:      skill.Tool,
			Answer:    fmt.Sprintf("Tool execution failed: %s", result.Error),
			ToolError: result.Error,
		}
	}

	answer, err := r.synthesize(ctx, query, result.Result)
	if err != nil {
		return Outcome{State: StateFailed, Skill: skill.Name, Tool: skill.Tool, Err: fmt.Errorf("synthesis: %w", err)}
	}

	return Outcome{State: StateDone, Skill: skill.Name, Tool: skill.Tool, Answer: answer}
}

// route asks the oracle to pick a skill. A transport error propagates; an
// unparseable or unknown answer falls back to the keyword heuristic when
// one is configured, otherwise to the empty name.
func (r *Router) route(ctx context.Context, query string) (string, error) {
	var skillLines string
	for _, s := range r.skills {
		skillLines += fmt.Sprintf("- %s: %s\n", s.Name, s.Description)
	}

	prompt := fmt.Sprintf(`Determine the best skill for this query.

Available skills:
%s
Query: %s

Respond with JSON: {"skill": "skill_name"}`, skillLines, query)

	raw, err := r.oracle.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You route queries to appropriate data retrieval skills."},
		{Role: "user", Content: prompt},
	}, llm.Options{MaxTokens: 50})
	if err != nil {
		return "", err
	}

	parsed := llm.ExtractJSON(raw)
	name, _ := parsed["skill"].(string)
	if name == "" {
		name, _ = parsed["action"].(string)
	}
	if name == "" && r.fallback != nil {
		name = r.fallback(query)
		r.logger.Info("keyword fallback applied", zap.String("skill", name))
	}
	return name, nil
}

func (r *Router) extractParams(ctx context.Context, skill Skill, query string) (map[string]any, error) {
	raw, err := r.oracle.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You convert queries to tool parameters."},
		{Role: "user", Content: skill.Prompt(query)},
	}, llm.Options{MaxTokens: 300})
	if err != nil {
		return nil, err
	}

	extracted := llm.ExtractJSON(raw)

	tool := r.registry.Get(skill.Tool)
	var inputSchema map[string]any
	if tool != nil {
		inputSchema = tool.Schema().InputSchema
	}
	return Normalize(skill.Name, extracted, query, inputSchema), nil
}

func (r *Router) synthesize(ctx context.Context, query string, result map[string]any) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		data = []byte("{}")
	}

	prompt := fmt.Sprintf(`Interpret these clinical data results for the query: %q

Data retrieved:
%s

Provide a clear, clinically relevant interpretation of this data.
Include key findings, patterns, and any clinical significance.`, query, data)

	return r.oracle.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You are a clinical data interpreter providing insights from health data."},
		{Role: "user", Content: prompt},
	}, llm.Options{MaxTokens: 1000})
}

// directAnswer serves queries no skill covers: one oracle call, no tool,
// no synthesis pass.
func (r *Router) directAnswer(ctx context.Context, routed, query string) Outcome {
	answer, err := r.oracle.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You are a helpful clinical research assistant."},
		{Role: "user", Content: query},
	}, llm.Options{MaxTokens: 1500})
	if err != nil {
		return Outcome{State: StateFailed, Skill: routed, Err: fmt.Errorf("direct answer: %w", err)}
	}
	return Outcome{State: StateDone, Skill: routed, Answer: answer}
}
