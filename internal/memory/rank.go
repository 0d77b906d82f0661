package memory

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const charsPerToken = 3.5

// rank orders items by scope precedence first, then a blend of salience,
// confidence, and recency.
func rank(items []Item, scopeRank map[string]int, now time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := scopeRank[items[i].Scope], scopeRank[items[j].Scope]
		if ri != rj {
			return ri < rj
		}
		return score(items[i], now) > score(items[j], now)
	})
}

func score(it Item, now time.Time) float64 {
	ageDays := now.Sub(it.UpdatedAt).Hours() / 24
	recency := 1.0 / (1.0 + ageDays/30)
	return 0.45*it.Salience + 0.35*it.Confidence + 0.2*recency
}

// Pack renders ranked items into a prompt section bounded by token budgets.
// Items are added until the soft budget is reached; an item that would push
// past the hard budget is skipped. Returns the rendered text and the ids of
// the items included.
func Pack(items []Item, softBudget, hardBudget int) (string, []string) {
	if len(items) == 0 || hardBudget <= 0 {
		return "", nil
	}
	if softBudget <= 0 || softBudget > hardBudget {
		softBudget = hardBudget
	}

	var sb strings.Builder
	var ids []string
	used := 0
	for _, it := range items {
		entry := fmt.Sprintf("- [%s/%s] %s: %s\n", it.Layer, it.Type, it.Title, it.Content)
		cost := estimateTokens(entry)
		if used+cost > hardBudget {
			continue
		}
		sb.WriteString(entry)
		ids = append(ids, it.ID)
		used += cost
		if used >= softBudget {
			break
		}
	}
	if sb.Len() == 0 {
		return "", nil
	}
	return sb.String(), ids
}

func estimateTokens(s string) int {
	return int(float64(len(s))/charsPerToken) + 1
}
