package domain

// PlannerKind names the reasoning loop variant that produced a PlanResult.
type PlannerKind string

const (
	PlannerReAct PlannerKind = "react"
	PlannerCoT   PlannerKind = "cot"
)

// PlanStatus is the terminal state of a planning call.
type PlanStatus string

const (
	PlanCompleted            PlanStatus = "completed"
	PlanMaxIterationsReached PlanStatus = "max_iterations_reached"
	PlanMaxStepsReached      PlanStatus = "max_steps_reached"
	PlanCancelled            PlanStatus = "cancelled"
)

// StepKind tags a ReAct PlanStep.
type StepKind string

const (
	StepThought     StepKind = "thought"
	StepAction      StepKind = "action"
	StepObservation StepKind = "observation"
	StepFinalAnswer StepKind = "final_answer"
)

// PlanStep is one entry of a ReAct trace. Thought, ToolName and ToolInput are
// only set for StepAction.
type PlanStep struct {
	Iteration int      `json:"iteration"`
	Kind      StepKind `json:"kind"`
	Content   string   `json:"content,omitempty"`
	Thought   string   `json:"thought,omitempty"`
	ToolName  string   `json:"tool_name,omitempty"`
	ToolInput string   `json:"tool_input,omitempty"`
}

// ReasoningKind tags a chain-of-thought step.
type ReasoningKind string

const (
	ReasoningStepKind ReasoningKind = "reasoning"
	ReflectionKind    ReasoningKind = "reflection"
	ConclusionKind    ReasoningKind = "conclusion"
	ErrorKind         ReasoningKind = "error"
)

// ReasoningStep is one entry of a chain-of-thought trace.
type ReasoningStep struct {
	Index   int           `json:"index"`
	Kind    ReasoningKind `json:"kind"`
	Content string        `json:"content"`
}

// PlanResult is what a Planner returns. Exactly one of Steps/Reasoning is
// populated depending on Planner. FinalAnswer is nil when the loop exhausted
// its budget.
type PlanResult struct {
	Planner     PlannerKind     `json:"planner"`
	Steps       []PlanStep      `json:"steps,omitempty"`
	Reasoning   []ReasoningStep `json:"reasoning,omitempty"`
	FinalAnswer *string         `json:"final_answer"`
	Iterations  int             `json:"iterations"`
	Status      PlanStatus      `json:"status"`
}

// Answer returns the terminal answer or fallback when the loop ended without one.
func (p *PlanResult) Answer(fallback string) string {
	if p == nil || p.FinalAnswer == nil {
		return fallback
	}
	return *p.FinalAnswer
}
