package inference

// perThousandTokens holds USD pricing per 1K tokens: [input, output].
var perThousandTokens = map[string][2]float64{
	"gpt-4o":                   {0.005, 0.015},
	"gpt-4o-mini":              {0.00015, 0.0006},
	"gpt-4-turbo":              {0.01, 0.03},
	"gpt-3.5-turbo":            {0.0005, 0.0015},
	"claude-3-haiku-20240307":  {0.00025, 0.00125},
	"claude-3-sonnet-20240229": {0.003, 0.015},
	"claude-sonnet-4-20250514": {0.003, 0.015},
}

// CalculateCost estimates the USD cost of a call. Unknown models cost
// zero, which keeps the budget check conservative for the caller to
// notice in usage reports rather than silently blocking.
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	prices, ok := perThousandTokens[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*prices[0] + float64(outputTokens)/1000*prices[1]
}
