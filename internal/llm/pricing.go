package llm

// ModelRates holds per-million-token USD pricing for a model
type ModelRates struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// fallbackModel is the cheapest small model; unknown model ids are priced
// at its rates so cost estimates never undercharge to zero
const fallbackModel = "claude-haiku-3-5"

var pricingTable = map[string]ModelRates{
	"claude-haiku-3-5":   {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"claude-sonnet-4":    {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-opus-4":      {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	"gpt-4o-mini":        {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4o":             {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4-turbo":        {InputPerMillion: 10.00, OutputPerMillion: 30.00},
	"gemini-2.0-flash":   {InputPerMillion: 0.10, OutputPerMillion: 0.40},
	"deepseek-chat":      {InputPerMillion: 0.27, OutputPerMillion: 1.10},
}

// Rates returns the pricing for a model id, falling back to the cheapest
// small model for unknown ids
func Rates(modelID string) ModelRates {
	if rates, ok := pricingTable[modelID]; ok {
		return rates
	}
	return pricingTable[fallbackModel]
}

// Cost estimates the USD cost of a completion
func Cost(modelID string, inputTokens, outputTokens int) float64 {
	rates := Rates(modelID)
	return float64(inputTokens)/1e6*rates.InputPerMillion +
		float64(outputTokens)/1e6*rates.OutputPerMillion
}
