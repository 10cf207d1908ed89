package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/manthysbr/aulerag/internal/core/domain"
)

const defaultMaxSteps = 10

var (
	conclusionRe = regexp.MustCompile(`Conclusion:`)
	stepLabelRe  = regexp.MustCompile(`(?i)^\s*Step\s*\d*\s*:\s*`)
)

// CoTPlanner runs a bounded chain-of-thought loop without tools. Every third
// step it may ask the model to reflect on recent progress.
type CoTPlanner struct {
	logger     *slog.Logger
	tracer     *TraceCollector
	maxSteps   int
	reflection bool
}

// NewCoTPlanner creates a planner. maxSteps <= 0 means the default (10).
func NewCoTPlanner(logger *slog.Logger, tracer *TraceCollector, maxSteps int, enableReflection bool) *CoTPlanner {
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	return &CoTPlanner{
		logger:     logger,
		tracer:     tracer,
		maxSteps:   maxSteps,
		reflection: enableReflection,
	}
}

func (p *CoTPlanner) Kind() domain.PlannerKind { return domain.PlannerCoT }

// MaxSteps returns the step bound.
func (p *CoTPlanner) MaxSteps() int { return p.maxSteps }

// Plan runs the loop until a Conclusion or maxSteps.
func (p *CoTPlanner) Plan(ctx context.Context, query, extraContext string, call domain.ModelCall) (*domain.PlanResult, error) {
	if call == nil {
		return nil, domain.ErrNoModelCall
	}

	result := &domain.PlanResult{
		Planner:   domain.PlannerCoT,
		Reasoning: []domain.ReasoningStep{},
	}
	prompt := buildInitialCoTPrompt(query, extraContext)

	for step := 0; step < p.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			result.Iterations = step
			result.Status = domain.PlanCancelled
			return result, err
		}

		response, err := p.generate(ctx, fmt.Sprintf("llm.reason (step %d)", step+1), prompt, call)
		if err != nil {
			p.logger.Warn("cot step failed", "step", step+1, "error", err)
			result.Reasoning = append(result.Reasoning, domain.ReasoningStep{
				Index:   step + 1,
				Kind:    domain.ErrorKind,
				Content: fmt.Sprintf("Error: %v", err),
			})
			continue
		}

		current := parseCoTResponse(response, step)
		result.Reasoning = append(result.Reasoning, current)

		if current.Kind == domain.ConclusionKind {
			conclusion := current.Content
			result.FinalAnswer = &conclusion
			result.Iterations = step + 1
			result.Status = domain.PlanCompleted
			return result, nil
		}

		prompt = buildNextCoTPrompt(query, extraContext, result.Reasoning)

		if p.reflection && step > 0 && step%3 == 0 {
			if reflection, ok := p.reflect(ctx, result.Reasoning, call); ok {
				result.Reasoning = append(result.Reasoning, domain.ReasoningStep{
					Index:   step + 1,
					Kind:    domain.ReflectionKind,
					Content: reflection,
				})
			}
		}
	}

	result.Iterations = p.maxSteps
	result.Status = domain.PlanMaxStepsReached
	p.logger.Info("cot budget exhausted", "max_steps", p.maxSteps)
	return result, nil
}

func (p *CoTPlanner) generate(ctx context.Context, name, prompt string, call domain.ModelCall) (string, error) {
	_, spanID := p.tracer.StartSpan(ctx, name, domain.SpanKindLLM, map[string]string{
		"planner": string(domain.PlannerCoT),
	})
	p.tracer.SetSpanInput(spanID, lastRunes(prompt, 500))
	response, err := call(ctx, prompt)
	p.tracer.SpanDone(spanID, truncateRunes(response, 500), err)
	return response, err
}

// reflect asks for a short review of the last steps. A failed reflection is
// skipped rather than recorded.
func (p *CoTPlanner) reflect(ctx context.Context, steps []domain.ReasoningStep, call domain.ModelCall) (string, bool) {
	if len(steps) == 0 {
		return "", false
	}
	var sb strings.Builder
	sb.WriteString("Review the following reasoning steps and provide a brief reflection:\n\n")
	for _, s := range steps[max(0, len(steps)-planWindow):] {
		fmt.Fprintf(&sb, "Step %d: %s\n", s.Index, s.Content)
	}
	sb.WriteString("\nReflection:")

	reflection, err := p.generate(ctx, "llm.reflect", sb.String(), call)
	if err != nil {
		p.logger.Warn("cot reflection failed", "error", err)
		return "", false
	}
	reflection = strings.TrimSpace(reflection)
	return reflection, reflection != ""
}

func buildInitialCoTPrompt(query, extraContext string) string {
	var sb strings.Builder
	sb.WriteString(`You are a helpful assistant that uses Chain-of-Thought reasoning.
Break down complex problems into smaller steps and reason through them step by step.

Format your reasoning as:
Step 1: <your reasoning>
Step 2: <your reasoning>
...
Conclusion: <final answer>

`)
	if extraContext != "" {
		fmt.Fprintf(&sb, "Context: %s\n\n", extraContext)
	}
	fmt.Fprintf(&sb, "Question: %s\n\nBegin your reasoning:", query)
	return sb.String()
}

func buildNextCoTPrompt(query, extraContext string, steps []domain.ReasoningStep) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Continue your Chain-of-Thought reasoning.\n\nQuestion: %s\n\n", query)
	if extraContext != "" {
		fmt.Fprintf(&sb, "Context: %s\n\n", extraContext)
	}

	window := make([]domain.ReasoningStep, 0, len(steps))
	for _, s := range steps {
		if s.Kind != domain.ReflectionKind {
			window = append(window, s)
		}
	}
	window = window[max(0, len(window)-planWindow):]

	sb.WriteString("Previous reasoning steps:\n")
	for _, s := range window {
		fmt.Fprintf(&sb, "Step %d: %s\n", s.Index, s.Content)
	}
	sb.WriteString("\nWhat is the next step in your reasoning? When you reach the answer, write \"Conclusion: <final answer>\".")
	return sb.String()
}

// parseCoTResponse turns a response into a reasoning or conclusion step. The
// conclusion is the text after the last "Conclusion:" marker.
func parseCoTResponse(response string, step int) domain.ReasoningStep {
	response = strings.TrimSpace(response)

	if locs := conclusionRe.FindAllStringIndex(response, -1); len(locs) > 0 {
		last := locs[len(locs)-1]
		return domain.ReasoningStep{
			Index:   step + 1,
			Kind:    domain.ConclusionKind,
			Content: strings.TrimSpace(response[last[1]:]),
		}
	}

	return domain.ReasoningStep{
		Index:   step + 1,
		Kind:    domain.ReasoningStepKind,
		Content: strings.TrimSpace(stepLabelRe.ReplaceAllString(response, "")),
	}
}
