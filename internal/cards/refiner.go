package cards

import (
	"context"

	"github.com/dhowlett/cardsmith/internal/model"
)

// Refiner reviews one existing card against a user instruction.
type Refiner struct {
	client ModelClient

	Temperature float64
}

func NewRefiner(client ModelClient) *Refiner {
	return &Refiner{client: client, Temperature: 0.2}
}

// Refine calls the model for a verdict and applies it to the card in
// place. Discarded cards keep their content; only the status hides them
// from the effective view.
func (r *Refiner) Refine(ctx context.Context, card *model.Card, modelName, instruction string) (Decision, error) {
	prompt := BuildRefinementPrompt(card.Front, card.Back, instruction)

	raw, err := r.client.Generate(ctx, prompt, modelName, r.Temperature, nil)
	if err != nil {
		return Decision{}, err
	}

	decision, err := ParseDecision(raw)
	if err != nil {
		return Decision{}, err
	}

	switch decision.Action {
	case ActionKeep:
		card.Status = model.CardKept
		card.RefinedFront = ""
		card.RefinedBack = ""
	case ActionChange:
		card.Status = model.CardChanged
		card.RefinedFront = decision.Front
		card.RefinedBack = decision.Back
		// An empty rewritten side falls back to the original.
		if card.RefinedFront == "" {
			card.RefinedFront = card.Front
		}
		if card.RefinedBack == "" {
			card.RefinedBack = card.Back
		}
	case ActionDiscard:
		card.Status = model.CardDiscarded
		card.RefinedFront = ""
		card.RefinedBack = ""
	}
	card.RefineReason = decision.Reason

	return decision, nil
}
