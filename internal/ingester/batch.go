package ingester

import (
	"fmt"
	"sort"
	"strings"

	"whalescope/internal/models"
	"whalescope/internal/repository"
)

// sortBatchItems orders a batch oldest first and drops in-batch
// duplicates by tx hash. Cross-batch duplicates are handled by the
// store's unique index.
func sortBatchItems(items []repository.BatchItem) []repository.BatchItem {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Trade.Timestamp.Before(items[j].Trade.Timestamp)
	})

	seen := map[string]bool{}
	out := items[:0]
	for _, it := range items {
		if it.Trade.TxHash != nil && *it.Trade.TxHash != "" {
			if seen[*it.Trade.TxHash] {
				continue
			}
			seen[*it.Trade.TxHash] = true
		}
		out = append(out, it)
	}
	return out
}

func eventSummary(direction string, amount float64, asset string, valueUSD float64, platform string) string {
	verb := map[string]string{
		models.DirBuy:        "received",
		models.DirSell:       "sent",
		models.DirDeposit:    "deposited to exchange",
		models.DirWithdraw:   "withdrew from exchange",
		models.DirLong:       "opened long",
		models.DirShort:      "opened short",
		models.DirCloseLong:  "closed long",
		models.DirCloseShort: "closed short",
	}[direction]
	if verb == "" {
		verb = direction
	}

	s := fmt.Sprintf("Whale %s %s %s (%s)", verb, formatAmount(amount), asset, formatUSD(valueUSD))
	if platform != "" {
		s += " via " + platform
	}
	return s
}

func formatAmount(v float64) string {
	if v >= 1000 {
		return fmt.Sprintf("%.0f", v)
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

func formatUSD(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("$%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("$%.2fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("$%.1fK", v/1e3)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}
