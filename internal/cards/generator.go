package cards

import (
	"context"
	"encoding/json"

	"github.com/dhowlett/cardsmith/internal/model"
)

// ModelClient is the transport the generator and refiner need.
type ModelClient interface {
	Generate(ctx context.Context, prompt, model string, temperature float64, format json.RawMessage) (string, error)
}

// Generator produces cards for one approved chunk.
type Generator struct {
	client ModelClient

	// Temperature for generation calls.
	Temperature float64
}

func NewGenerator(client ModelClient) *Generator {
	return &Generator{client: client, Temperature: 0.2}
}

// Generate builds the prompt for a chunk, calls the model, parses the
// response and caps the result at the detail level's maximum. The raw
// response is returned for log previews.
func (g *Generator) Generate(ctx context.Context, req *model.Request, chunk *model.Chunk) ([]model.Card, string, error) {
	minCards, maxCards := req.DetailLevel.CardTargets()
	prompt := BuildGenerationPrompt(chunk.Title, chunk.Content, req.Guidance, req.Notes, minCards, maxCards)

	raw, err := g.client.Generate(ctx, prompt, req.Model, g.Temperature, nil)
	if err != nil {
		return nil, "", err
	}

	pairs, err := ParseCards(raw)
	if err != nil {
		return nil, raw, err
	}
	if len(pairs) > maxCards {
		pairs = pairs[:maxCards]
	}

	out := make([]model.Card, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, model.Card{
			RequestID:  req.ID,
			ChunkIndex: chunk.Index,
			Front:      p.Front,
			Back:       p.Back,
			Status:     model.CardKept,
		})
	}
	return out, raw, nil
}
