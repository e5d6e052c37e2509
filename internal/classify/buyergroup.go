package classify

import "github.com/sells-group/enrich-cli/internal/model"

// Engagement strategies for a buyer group, picked by role composition.
const (
	StrategyExecutiveSponsor     = "executive_sponsor"
	StrategyChampionLed          = "champion_led"
	StrategyBlockerMitigation    = "blocker_mitigation"
	StrategyStakeholderConsensus = "stakeholder_consensus"
)

// BuildBuyerGroup rolls classified people up into a per-company summary:
// role counts, total influence, an engagement strategy, and a group
// priority. Returns nil when no people are classified.
func BuildBuyerGroup(people []model.PersonRecord) *model.BuyerGroup {
	counts := make(map[model.Role]int)
	total := 0
	classified := 0

	for _, p := range people {
		if p.Role == nil {
			continue
		}
		classified++
		counts[p.Role.Role]++
		total += p.Role.InfluenceScore
	}
	if classified == 0 {
		return nil
	}

	strategy := StrategyStakeholderConsensus
	switch {
	case counts[model.RoleDecisionMaker] > 0:
		strategy = StrategyExecutiveSponsor
	case counts[model.RoleChampion] > 0:
		strategy = StrategyChampionLed
	case counts[model.RoleBlocker] > 0:
		strategy = StrategyBlockerMitigation
	}

	avg := total / classified
	priority := model.PriorityLow
	switch {
	case avg >= 70:
		priority = model.PriorityHigh
	case avg >= 45:
		priority = model.PriorityMedium
	}

	return &model.BuyerGroup{
		RoleCounts:         counts,
		TotalInfluence:     total,
		EngagementStrategy: strategy,
		Priority:           priority,
	}
}
