package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"docintel/internal/agent"
	"docintel/internal/llm"
	"docintel/internal/observability"
	"docintel/internal/persistence/databases"
	"docintel/internal/rag/answer"
	"docintel/internal/rag/diff"
	"docintel/internal/rag/retrieve"
	"docintel/internal/tools"
)

// Tracer records step-level spans around LLM calls and tool dispatches.
// agent.OTELTracer and agent.NullTracer both satisfy this shape.
type Tracer interface {
	Start(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error))
}

// Step is one recorded iteration of the agent loop, kept for callers that
// want to inspect or render the reasoning trace.
type Step struct {
	Thought      string
	ToolCalls    []llm.ToolCall
	Observations []string
}

// Result is the outcome of one agent run.
type Result struct {
	Answer answer.Answer
	Steps  []Step
}

// Loop drives a ReAct-style tool-calling session: at each step the model
// either emits tool calls (dispatched against the registry, observations
// fed back as user messages) or a final answer. The loop is capped at
// MaxSteps; on exceeding the cap it forces a final streamed response with
// no further tool access (SPEC_FULL.md section 4.10).
type Loop struct {
	Provider llm.Provider
	Model    string
	Tracer   Tracer

	Retriever  *retrieve.Retriever
	Metadata   databases.MetadataStore
	DiffEngine *diff.Engine
	Answerer   *answer.Generator

	MaxSteps int
}

func (l *Loop) tracer() Tracer {
	if l.Tracer != nil {
		return l.Tracer
	}
	return &agent.NullTracer{}
}

func (l *Loop) maxSteps() int {
	if l.MaxSteps <= 0 {
		return 8
	}
	return l.MaxSteps
}

// agentResponse is the tolerant shape of the JSON object the agent prompt
// (see agentSystemPrompt) requires the model to emit at every step: either
// {thought, action, action_input} to invoke a tool, or {thought,
// final_answer} to terminate (spec.md section 4.10).
type agentResponse struct {
	Thought     string          `json:"thought"`
	Action      string          `json:"action"`
	ActionInput json.RawMessage `json:"action_input"`
	FinalAnswer string          `json:"final_answer"`
}

// Run executes the agent loop for one question against the caller's
// accessible document set and returns the final answer plus its reasoning
// trace.
func (l *Loop) Run(ctx context.Context, question string, accessibleDocIDs []string) (Result, error) {
	if l.Provider == nil {
		return Result{}, fmt.Errorf("agentloop: no LLM provider configured")
	}
	logger := observability.LoggerWithTrace(ctx)

	var observationLog []string
	registry := newToolRegistry(l.Retriever, l.Metadata, l.DiffEngine, l.Answerer, accessibleDocIDs)
	msgs := agent.BuildInitialLLMMessages(l.systemPrompt(registry), question, nil)

	var steps []Step
	for stepNum := 0; stepNum < l.maxSteps(); stepNum++ {
		stepCtx, finish := l.tracer().Start(ctx, "agentloop.step", map[string]any{"step": stepNum})
		msg, err := l.Provider.Chat(stepCtx, msgs, nil, l.Model)
		finish(err)
		if err != nil {
			return Result{}, fmt.Errorf("agentloop: step %d: %w", stepNum, err)
		}

		var parsed agentResponse
		if decodeErr := llm.DecodeJSON(msg.Content, &parsed); decodeErr != nil {
			// Tolerant-parsing fallback (spec.md section 4.10): if the
			// response can't be parsed as one of the two documented JSON
			// shapes, treat the raw text itself as the final answer.
			logger.Warn().Err(decodeErr).Int("step", stepNum).Msg("agent response parse failed, using raw text as final answer")
			steps = append(steps, Step{Thought: msg.Content})
			return l.finalize(ctx, msg.Content, observationLog, steps), nil
		}

		step := Step{Thought: parsed.Thought}
		msgs = append(msgs, llm.Message{Role: "assistant", Content: msg.Content})

		if parsed.Action == "" {
			steps = append(steps, step)
			return l.finalize(ctx, parsed.FinalAnswer, observationLog, steps), nil
		}

		toolCtx, toolFinish := l.tracer().Start(ctx, "agentloop.tool."+parsed.Action, map[string]any{"args": string(parsed.ActionInput)})
		obs, dispatchErr := registry.Dispatch(toolCtx, parsed.Action, parsed.ActionInput)
		toolFinish(dispatchErr)

		observation := truncateObservation(string(obs))
		step.ToolCalls = []llm.ToolCall{{Name: parsed.Action, Args: parsed.ActionInput}}
		step.Observations = []string{observation}
		if parsed.Action == "search_documents" {
			observationLog = append(observationLog, observation)
		}
		steps = append(steps, step)

		msgs = append(msgs, llm.Message{
			Role:    "user",
			Content: fmt.Sprintf("Observation:\n%s\n\nContinue. If you now have enough information, respond with final_answer.", observation),
		})
	}

	logger.Warn().Int("max_steps", l.maxSteps()).Msg("agent loop exceeded step cap, forcing final answer")
	return l.forceFinalAnswer(ctx, msgs, observationLog, steps)
}

// systemPrompt renders agentSystemPrompt with the live tool catalogue
// description so the prompt stays in sync with the registered tools.
func (l *Loop) systemPrompt(registry tools.Registry) string {
	var sb strings.Builder
	for _, s := range registry.Schemas() {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", s.Name, s.Description))
	}
	return fmt.Sprintf(agentSystemPrompt, sb.String())
}

// forceFinalAnswer sends one last user turn instructing the model to answer
// directly with whatever it has gathered, with no further tool calls
// offered, and streams that response to completion.
func (l *Loop) forceFinalAnswer(ctx context.Context, msgs []llm.Message, observationLog []string, steps []Step) (Result, error) {
	msgs = append(msgs, llm.Message{Role: "user", Content: forcedFinalPrompt})

	var sb strings.Builder
	handler := &collectingStreamHandler{builder: &sb}
	if err := l.Provider.ChatStream(ctx, msgs, nil, l.Model, handler); err != nil {
		return Result{}, fmt.Errorf("agentloop: forced final response: %w", err)
	}
	return l.finalize(ctx, sb.String(), observationLog, steps), nil
}

func (l *Loop) finalize(_ context.Context, text string, observationLog []string, steps []Step) Result {
	ans := answer.Answer{
		Text:       strings.TrimSpace(text),
		Citations:  extractCitationsFromObservations(observationLog),
		Confidence: estimateLoopConfidence(text, observationLog),
	}
	return Result{Answer: ans, Steps: steps}
}

// estimateLoopConfidence mirrors answer.estimateConfidence's shape without
// depending on its unexported internals: more search evidence and an
// absence of hedging language raise the score.
func estimateLoopConfidence(text string, observationLog []string) float64 {
	if len(observationLog) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	for _, phrase := range []string{"i don't know", "i do not know", "not sure", "unclear", "no information", "insufficient information"} {
		if strings.Contains(lower, phrase) {
			return 0.2
		}
	}
	coverage := float64(len(observationLog)) / 3.0
	if coverage > 1 {
		coverage = 1
	}
	return 0.5 + 0.3*coverage
}

func truncateObservation(s string) string {
	const limit = 3000
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...[truncated]"
}

type collectingStreamHandler struct {
	builder *strings.Builder
}

func (h *collectingStreamHandler) OnDelta(content string) { h.builder.WriteString(content) }
func (h *collectingStreamHandler) OnToolCall(llm.ToolCall) {}

const agentSystemPrompt = `You are a document intelligence agent. You can use the following tools to answer the user's question:

%s
You must respond with exactly one JSON object and nothing else — no markdown fences, no prose before or after it.

When you need to call a tool:
{"thought": "your reasoning", "action": "tool name", "action_input": {"param": "value"}}

When you have enough evidence to answer:
{"thought": "your reasoning", "final_answer": "the answer, citing sources as [source: title, section, page]"}`

const forcedFinalPrompt = `You have reached the maximum number of reasoning steps. Answer the original question now, as completely as you can from the evidence already gathered. Do not request any further tool calls.`
