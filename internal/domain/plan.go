package domain

import "encoding/json"

// StepKind names a single capability handler operation.
type StepKind string

const (
	StepCheckStock     StepKind = "inventory.check_stock"
	StepComputeQuote   StepKind = "quote.compute"
	StepReserveStock   StepKind = "order.reserve_stock"
	StepCapturePayment StepKind = "payment.capture"
	StepFulfillOrder   StepKind = "order.fulfill"
)

// StepInput is the data a step is invoked with.
type StepInput struct {
	CustomerID string     `json:"customer_id,omitempty"`
	Items      []LineItem `json:"items,omitempty"`
}

// Step is one unit of work in a plan.
type Step struct {
	Index       int       `json:"index"`
	Kind        StepKind  `json:"kind"`
	Input       StepInput `json:"input"`
	CommitPoint bool      `json:"commit_point,omitempty"` // pending proposals are committed once this step succeeds
}

// Plan is the ordered list of steps derived from an intent. A plan never
// changes once built; re-planning produces a new value.
type Plan struct {
	intent IntentKind
	steps  []Step
}

// NewPlan builds a plan, numbering the steps in order.
func NewPlan(intent IntentKind, steps ...Step) *Plan {
	p := &Plan{intent: intent, steps: make([]Step, len(steps))}
	for i, s := range steps {
		s.Index = i
		s.Input.Items = append([]LineItem(nil), s.Input.Items...)
		p.steps[i] = s
	}
	return p
}

// Intent returns the intent kind the plan was derived from.
func (p *Plan) Intent() IntentKind { return p.intent }

// Len returns the number of steps.
func (p *Plan) Len() int { return len(p.steps) }

// Step returns the i-th step.
func (p *Plan) Step(i int) Step { return p.steps[i] }

// Steps returns a copy of the plan's steps.
func (p *Plan) Steps() []Step {
	out := make([]Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// Kinds lists the step kinds in order.
func (p *Plan) Kinds() []StepKind {
	out := make([]StepKind, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.Kind
	}
	return out
}

type planJSON struct {
	Intent IntentKind `json:"intent"`
	Steps  []Step     `json:"steps"`
}

func (p *Plan) MarshalJSON() ([]byte, error) {
	return json.Marshal(planJSON{Intent: p.intent, Steps: p.steps})
}

func (p *Plan) UnmarshalJSON(data []byte) error {
	var raw planJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = *NewPlan(raw.Intent, raw.Steps...)
	return nil
}
