package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/manthysbr/aulerag/internal/core/domain"
)

const (
	defaultMaxIterations = 10
	planWindow           = 3
)

var (
	finalAnswerRe = regexp.MustCompile(`(?i)Final\s*Answer:`)
	actionRe      = regexp.MustCompile(`(?i)\bAction:`)
	actionInputRe = regexp.MustCompile(`(?i)Action\s*Input:`)
	observationRe = regexp.MustCompile(`(?i)\bObservation:`)
	thoughtRe     = regexp.MustCompile(`(?i)Thought:`)
)

// ReActPlanner runs a bounded Thought → Action → Observation loop, invoking
// tools through a ToolBroker until the model emits a Final Answer.
type ReActPlanner struct {
	logger        *slog.Logger
	broker        *ToolBroker
	tracer        *TraceCollector
	maxIterations int
}

// NewReActPlanner creates a planner. maxIterations <= 0 means the default (10).
// tracer may be nil.
func NewReActPlanner(logger *slog.Logger, broker *ToolBroker, tracer *TraceCollector, maxIterations int) *ReActPlanner {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	if broker == nil {
		broker = NewToolBroker(logger)
	}
	return &ReActPlanner{
		logger:        logger,
		broker:        broker,
		tracer:        tracer,
		maxIterations: maxIterations,
	}
}

func (p *ReActPlanner) Kind() domain.PlannerKind { return domain.PlannerReAct }

// Tools exposes the planner's broker so callers can register tools.
func (p *ReActPlanner) Tools() *ToolBroker { return p.broker }

// MaxIterations returns the iteration bound.
func (p *ReActPlanner) MaxIterations() int { return p.maxIterations }

// Plan runs the loop. Model and tool failures are recorded as Observation steps
// and never abort the plan; only a nil call or a cancelled ctx return an error.
func (p *ReActPlanner) Plan(ctx context.Context, query, extraContext string, call domain.ModelCall) (*domain.PlanResult, error) {
	if call == nil {
		return nil, domain.ErrNoModelCall
	}

	result := &domain.PlanResult{
		Planner: domain.PlannerReAct,
		Steps:   []domain.PlanStep{},
	}

	for i := 0; i < p.maxIterations; i++ {
		iteration := i + 1
		if err := ctx.Err(); err != nil {
			result.Iterations = i
			result.Status = domain.PlanCancelled
			return result, err
		}

		prompt := p.buildPrompt(query, extraContext, result.Steps)

		_, spanID := p.tracer.StartSpan(ctx, fmt.Sprintf("llm.generate (iter %d)", iteration), domain.SpanKindLLM, map[string]string{
			"planner":   string(domain.PlannerReAct),
			"iteration": fmt.Sprintf("%d", iteration),
		})
		p.tracer.SetSpanInput(spanID, lastRunes(prompt, 500))

		response, err := call(ctx, prompt)
		p.tracer.SpanDone(spanID, truncateRunes(response, 500), err)
		if err != nil {
			p.logger.Warn("react iteration failed", "iteration", iteration, "error", err)
			result.Steps = append(result.Steps, domain.PlanStep{
				Iteration: iteration,
				Kind:      domain.StepObservation,
				Content:   fmt.Sprintf("Error: %v", err),
			})
			continue
		}

		step := parseReActResponse(response)
		step.Iteration = iteration
		result.Steps = append(result.Steps, step)

		switch step.Kind {
		case domain.StepFinalAnswer:
			answer := step.Content
			result.FinalAnswer = &answer
			result.Iterations = iteration
			result.Status = domain.PlanCompleted
			p.logger.Debug("react final answer", "iterations", iteration)
			return result, nil

		case domain.StepAction:
			result.Steps = append(result.Steps, domain.PlanStep{
				Iteration: iteration,
				Kind:      domain.StepObservation,
				Content:   p.invokeTool(ctx, step),
			})
		}
	}

	result.Iterations = p.maxIterations
	result.Status = domain.PlanMaxIterationsReached
	p.logger.Info("react budget exhausted", "max_iterations", p.maxIterations)
	return result, nil
}

func (p *ReActPlanner) invokeTool(ctx context.Context, step domain.PlanStep) string {
	toolCtx, spanID := p.tracer.StartSpan(ctx, "tool."+step.ToolName, domain.SpanKindTool, map[string]string{
		"tool": step.ToolName,
	})
	p.tracer.SetSpanInput(spanID, step.ToolInput)

	observation, err := p.broker.Invoke(toolCtx, step.ToolName, step.ToolInput)
	if err != nil {
		observation = fmt.Sprintf("Error: %v", err)
		if errors.Is(err, domain.ErrToolNotFound) {
			observation += ". Available tools: " + strings.Join(p.broker.Names(), ", ")
		}
	}
	p.tracer.SpanDone(spanID, observation, err)
	p.logger.Debug("tool invoked", "tool", step.ToolName, "observation", truncateRunes(observation, 200))
	return observation
}

func (p *ReActPlanner) buildPrompt(query, extraContext string, steps []domain.PlanStep) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant that uses the ReAct (Reasoning + Acting) methodology.\n")
	sb.WriteString("You can think, take actions using tools, and observe results.\n\n")
	sb.WriteString("Available tools:\n")
	sb.WriteString(p.broker.FormatForPrompt())
	sb.WriteString(`
Format your responses as:
Thought: <your reasoning>
Action: <tool_name>
Action Input: <JSON parameters>

When you have the final answer, use:
Final Answer: <your answer>

`)
	if extraContext != "" {
		fmt.Fprintf(&sb, "Context: %s\n\n", extraContext)
	}
	fmt.Fprintf(&sb, "Question: %s\n\n", query)

	if len(steps) > 0 {
		sb.WriteString("Previous steps:\n")
		for _, s := range steps[max(0, len(steps)-planWindow):] {
			switch s.Kind {
			case domain.StepThought:
				fmt.Fprintf(&sb, "Thought: %s\n", s.Content)
			case domain.StepAction:
				if s.Thought != "" {
					fmt.Fprintf(&sb, "Thought: %s\n", s.Thought)
				}
				fmt.Fprintf(&sb, "Action: %s\nAction Input: %s\n", s.ToolName, s.ToolInput)
			case domain.StepObservation:
				fmt.Fprintf(&sb, "Observation: %s\n", s.Content)
			}
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Your response:")
	return sb.String()
}

// parseReActResponse classifies a raw model response. A Final Answer marker
// anywhere wins; otherwise an Action marker yields an action; anything else is
// a thought.
func parseReActResponse(response string) domain.PlanStep {
	response = strings.TrimSpace(response)

	if locs := finalAnswerRe.FindAllStringIndex(response, -1); len(locs) > 0 {
		last := locs[len(locs)-1]
		return domain.PlanStep{
			Kind:    domain.StepFinalAnswer,
			Content: strings.TrimSpace(response[last[1]:]),
		}
	}

	thought := ""
	if loc := thoughtRe.FindStringIndex(response); loc != nil {
		rest := response[loc[1]:]
		if a := actionRe.FindStringIndex(rest); a != nil {
			rest = rest[:a[0]]
		}
		thought = strings.TrimSpace(rest)
	}

	if loc := actionRe.FindStringIndex(response); loc != nil {
		actionPart := response[loc[1]:]
		if obs := observationRe.FindStringIndex(actionPart); obs != nil {
			actionPart = actionPart[:obs[0]]
		}

		name, input := actionPart, ""
		if in := actionInputRe.FindStringIndex(actionPart); in != nil {
			name = actionPart[:in[0]]
			input = extractActionInput(actionPart[in[1]:])
		}
		name = strings.TrimSpace(strings.SplitN(strings.TrimSpace(name), "\n", 2)[0])
		name = strings.Trim(name, "`*\"' ")

		if name != "" {
			return domain.PlanStep{
				Kind:      domain.StepAction,
				Thought:   thought,
				ToolName:  name,
				ToolInput: input,
			}
		}
	}

	if thought == "" {
		thought = response
	}
	return domain.PlanStep{Kind: domain.StepThought, Content: thought}
}

// extractActionInput returns the raw tool input. A JSON object is cut at its
// matching closing brace so trailing chatter is dropped.
func extractActionInput(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return raw
	}

	depth := 0
	inStr := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inStr {
			escaped = true
			continue
		}
		if ch == '"' {
			inStr = !inStr
			continue
		}
		if inStr {
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[:i+1]
			}
		}
	}
	// Unbalanced: hand the broker the raw text so it reports the parse failure.
	return raw
}
