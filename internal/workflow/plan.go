// Package workflow turns intents into plans and drives executions through
// them one step at a time.
package workflow

import "github.com/example/o2c-lite/internal/domain"

// Plan returns the plan for intent. It is pure: the same intent always
// yields the same steps.
func Plan(intent domain.Intent) *domain.Plan {
	in := domain.StepInput{CustomerID: intent.CustomerID, Items: intent.Items}

	switch intent.Kind {
	case domain.IntentCheckInventory:
		return domain.NewPlan(intent.Kind,
			domain.Step{Kind: domain.StepCheckStock, Input: in},
		)
	case domain.IntentRequestQuote:
		return domain.NewPlan(intent.Kind,
			domain.Step{Kind: domain.StepCheckStock, Input: in},
			domain.Step{Kind: domain.StepComputeQuote, Input: in},
		)
	case domain.IntentPlaceOrder:
		return domain.NewPlan(intent.Kind,
			domain.Step{Kind: domain.StepCheckStock, Input: in},
			domain.Step{Kind: domain.StepComputeQuote, Input: in},
			domain.Step{Kind: domain.StepReserveStock, Input: in, CommitPoint: true},
			domain.Step{Kind: domain.StepCapturePayment, Input: in, CommitPoint: true},
			domain.Step{Kind: domain.StepFulfillOrder, Input: in},
		)
	default:
		return domain.NewPlan(domain.IntentUnknown)
	}
}
