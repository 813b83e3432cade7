package topic

// Well-known topic identifiers.
const (
	Fees       = "fees"
	Difficulty = "difficulty"
	Mempool    = "mempool"
)

// Topic describes a chart the widget can explain.
type Topic struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Subject     string   `json:"subject"`
	PromptHint  string   `json:"promptHint"`
	Description string   `json:"description,omitempty"`
	DataFields  []string `json:"dataFields,omitempty"` // 结构化数据中的字段
	Questions   []string `json:"questions,omitempty"`  // 前端展示的推荐追问
}

// Seed provides the charts shipped with the explorer.
func Seed() []Topic {
	return []Topic{
		{
			ID:          Fees,
			Name:        "Transaction Fees",
			Subject:     "Bitcoin transaction fee data",
			PromptHint:  "Relate each fee tier to how quickly a transaction is likely to confirm and say whether now is a cheap or expensive time to send.",
			Description: "Recommended fee rates in sat/vB for the next blocks.",
			DataFields:  []string{"fastestFee", "halfHourFee", "hourFee", "economyFee", "minimumFee"},
			Questions: []string{
				"Which fee should I pick for a payment that is not urgent?",
				"Why is the fastest fee so much higher than the economy fee?",
			},
		},
		{
			ID:          Difficulty,
			Name:        "Difficulty Adjustment",
			Subject:     "Bitcoin difficulty data",
			PromptHint:  "Explain the progress through the current epoch, the estimated adjustment and what it means for block times.",
			Description: "Progress of the current 2016-block difficulty epoch.",
			DataFields:  []string{"progressPercent", "difficultyChange", "remainingBlocks", "estimatedRetargetDate"},
			Questions: []string{
				"Why does the difficulty change every 2016 blocks?",
				"What happens if blocks are found faster than every ten minutes?",
			},
		},
		{
			ID:          Mempool,
			Name:        "Mempool Blocks",
			Subject:     "Bitcoin mempool data",
			PromptHint:  "Describe how full the projected blocks are and the fee ranges inside them.",
			Description: "Projected blocks built from the unconfirmed transaction pool.",
			DataFields:  []string{"blockVSize", "nTx", "medianFee", "feeRange"},
			Questions: []string{
				"How many blocks would it take to clear the mempool?",
			},
		},
	}
}
