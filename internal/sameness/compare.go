package sameness

import (
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// MaxScore is the score of two strings that are identical after normalization.
const MaxScore = 100.0

// Strategy names reported in Result.Strategies.
const (
	StrategyLevenshtein = "levenshtein"
	StrategyDice        = "dice"
)

// Token alignment weights. Both metrics count equally when picking the
// counterpart of a token.
const (
	levenshteinWeight = 0.5
	diceWeight        = 0.5
)

// StrategyScore is the score one metric gave a pair of strings.
type StrategyScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Result is the outcome of Compare. Score is the highest strategy score.
type Result struct {
	Score      float64         `json:"score"`
	Strategies []StrategyScore `json:"strategies"`
}

func newLevenshtein() *metrics.Levenshtein {
	m := metrics.NewLevenshtein()
	m.CaseSensitive = false
	return m
}

func newDice() *metrics.SorensenDice {
	m := metrics.NewSorensenDice()
	m.CaseSensitive = false
	m.NgramSize = 2
	return m
}

func scorePair(a, b string) Result {
	lev := strutil.Similarity(a, b, newLevenshtein()) * MaxScore
	dice := strutil.Similarity(a, b, newDice()) * MaxScore
	if a == b {
		lev, dice = MaxScore, MaxScore
	}
	high := lev
	if dice > high {
		high = dice
	}
	return Result{
		Score: high,
		Strategies: []StrategyScore{
			{Name: StrategyLevenshtein, Score: lev},
			{Name: StrategyDice, Score: dice},
		},
	}
}

func weightedScore(a, b string) float64 {
	if a == b {
		return MaxScore
	}
	lev := strutil.Similarity(a, b, newLevenshtein())
	dice := strutil.Similarity(a, b, newDice())
	return (lev*levenshteinWeight + dice*diceWeight) / (levenshteinWeight + diceWeight) * MaxScore
}

// Align reorders source so that each position mirrors the most similar token
// of target. Alignment is greedy: target tokens are visited in order and each
// takes the best remaining source token, the earliest one on ties. Once source
// runs out the remaining target tokens stay unmatched, so the result may be
// shorter than target.
func Align(target, source []string) []string {
	remaining := append([]string(nil), source...)
	aligned := make([]string, 0, len(source))
	for _, tok := range target {
		if len(remaining) == 0 {
			break
		}
		best, bestIdx := 0.0, 0
		for i, cand := range remaining {
			if s := weightedScore(tok, cand); s > best {
				best, bestIdx = s, i
			}
		}
		aligned = append(aligned, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return aligned
}

// Compare scores the sameness of a and b independently of token order.
//
// Both strings are loose-normalized and split into tokens. The shorter token
// list is reordered to mirror the longer one (see Align) and the two joined
// strings are then scored with Levenshtein and Sørensen–Dice similarity.
// An empty string on either side scores zero.
func Compare(a, b string) Result {
	na, nb := NormalizeLoose(a), NormalizeLoose(b)
	if na == "" || nb == "" {
		return Result{
			Strategies: []StrategyScore{
				{Name: StrategyLevenshtein},
				{Name: StrategyDice},
			},
		}
	}

	aTokens := strings.Split(na, " ")
	bTokens := strings.Split(nb, " ")

	longer, shorter := bTokens, aTokens
	if len(aTokens) > len(bTokens) {
		longer, shorter = aTokens, bTokens
	}

	aligned := Align(longer, shorter)
	return scorePair(strings.Join(longer, " "), strings.Join(aligned, " "))
}
