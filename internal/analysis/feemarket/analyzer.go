package feemarket

import (
	"math"

	"github.com/zhouzirui/mempool-lens/backend/internal/model/fees"
)

// Level 表示当前手续费市场的拥堵程度。
type Level string

const (
	Unknown   Level = "unknown"
	Quiet     Level = "quiet"
	Normal    Level = "normal"
	Busy      Level = "busy"
	Congested Level = "congested"
)

// Decision 给出拥堵判断以及用于描述的辅助指标。
type Decision struct {
	Level Level `json:"level"`
	// Spread is fastestFee minus economyFee in sat/vB.
	Spread float64 `json:"spread"`
	// Index is the position of fastestFee on the explorer's fee ladder.
	Index int `json:"index"`
}

// feeLevels is the ladder the explorer uses to colour fee bands.
var feeLevels = []float64{
	1, 2, 3, 4, 5, 6, 8, 10, 12, 15, 20, 30, 40, 50, 60, 70, 80, 90, 100,
	125, 150, 175, 200, 250, 300, 350, 400, 500, 600, 700, 800, 900, 1000,
	1200, 1400, 1600, 1800, 2000,
}

// ladder indexes where a band starts.
const (
	normalFrom    = 3  // 4 sat/vB
	busyFrom      = 10 // 20 sat/vB
	congestedFrom = 14 // 60 sat/vB
)

// Analyze 根据推荐费率推断拥堵程度。
func Analyze(f fees.RecommendedFees) Decision {
	if f.IsZero() || f.FastestFee <= 0 {
		return Decision{Level: Unknown, Index: -1}
	}

	index := LevelIndex(f.FastestFee)
	spread := math.Max(0, f.FastestFee-f.EconomyFee)

	level := Quiet
	switch {
	case index >= congestedFrom:
		level = Congested
	case index >= busyFrom:
		level = Busy
	case index >= normalFrom:
		level = Normal
	}

	// 快慢档差距过大说明区块空间在被争抢，即使最高档不算高也上调一级。
	if level != Congested && f.EconomyFee > 0 && f.FastestFee/f.EconomyFee >= 4 {
		level = bump(level)
	}

	return Decision{Level: level, Spread: spread, Index: index}
}

// LevelIndex returns the highest ladder position whose rate does not exceed fee.
func LevelIndex(fee float64) int {
	index := 0
	for i, v := range feeLevels {
		if fee < v {
			break
		}
		index = i
	}
	return index
}

func bump(l Level) Level {
	switch l {
	case Quiet:
		return Normal
	case Normal:
		return Busy
	default:
		return Congested
	}
}
