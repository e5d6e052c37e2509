// Package classify maps a person's title and department signals to a
// buyer-group role with a deterministic influence score. Pure rule
// evaluation: same inputs always produce the same assignment.
package classify

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/sells-group/enrich-cli/internal/model"
)

// DefaultInfluence is the influence score assigned when no signal
// matches. Documented constant, never guessed from unrelated fields.
const DefaultInfluence = 25

// keywordTier is one seniority band inside a rule group. Lower tier =
// more senior; ties within a group resolve to the lowest tier matched.
type keywordTier struct {
	Tier     int
	Keywords []string
}

// ruleGroup binds a role to its ordered seniority bands. Groups are data,
// not control flow: new signals are new rows, not new branches.
type ruleGroup struct {
	Role  model.Role
	Tiers []keywordTier
}

// ruleGroups are evaluated in order; the first group with any keyword
// match wins. Decision-maker signals are checked before champion so a
// title carrying both, like "VP, Head of Sales", classifies by the more
// senior signal.
var ruleGroups = []ruleGroup{
	{
		Role: model.RoleDecisionMaker,
		Tiers: []keywordTier{
			{Tier: 1, Keywords: []string{"chief", "ceo", "cfo", "cto", "coo", "cio", "ciso", "cro", "president", "founder", "owner"}},
			{Tier: 2, Keywords: []string{"executive vice president", "evp"}},
			{Tier: 3, Keywords: []string{"senior vice president", "svp"}},
			{Tier: 4, Keywords: []string{"vice president", "vp", "general manager", "managing director", "partner"}},
		},
	},
	{
		Role: model.RoleChampion,
		Tiers: []keywordTier{
			{Tier: 5, Keywords: []string{"head of", "head,"}},
			{Tier: 6, Keywords: []string{"director"}},
			{Tier: 7, Keywords: []string{"principal", "lead", "senior manager", "staff"}},
		},
	},
	{
		Role: model.RoleBlocker,
		Tiers: []keywordTier{
			{Tier: 6, Keywords: []string{"legal", "compliance", "counsel", "procurement", "risk", "audit", "security officer"}},
		},
	},
	{
		Role: model.RoleIntroducer,
		Tiers: []keywordTier{
			{Tier: 7, Keywords: []string{"business development", "partnerships", "alliances"}},
			{Tier: 8, Keywords: []string{"associate", "coordinator", "specialist", "account executive", "sales development"}},
		},
	},
}

// blockerDepartments trigger the blocker group from the department
// signal even when the title itself is neutral.
var blockerDepartments = map[string]bool{
	"legal": true, "compliance": true, "finance": true, "procurement": true,
}

// influence maps (role, tier) to a fixed score. Deterministic by
// construction: the table is the whole function.
var influence = map[model.Role]map[int]int{
	model.RoleDecisionMaker: {1: 95, 2: 90, 3: 85, 4: 80},
	model.RoleChampion:      {5: 70, 6: 65, 7: 60},
	model.RoleBlocker:       {6: 50},
	model.RoleIntroducer:    {7: 45, 8: 40},
}

// Classify assigns a buyer-group role from title and department. No
// signal at all yields stakeholder with DefaultInfluence. The rule trace
// names the group, keyword, and tier that fired, for audit.
func Classify(ids model.Identifiers) model.RoleAssignment {
	title := normalizeTitle(ids.Title)
	dept := strings.ToLower(strings.TrimSpace(ids.Department))

	for _, group := range ruleGroups {
		if tier, keyword, ok := matchGroup(group, title); ok {
			score := influence[group.Role][tier]
			return model.RoleAssignment{
				Role:               group.Role,
				InfluenceScore:     score,
				EngagementPriority: priorityFor(score),
				RuleTrace: []string{
					"group:" + string(group.Role),
					"keyword:" + keyword,
					fmt.Sprintf("tier:%d", tier),
				},
			}
		}
		if group.Role == model.RoleBlocker && blockerDepartments[dept] {
			score := influence[model.RoleBlocker][6]
			return model.RoleAssignment{
				Role:               model.RoleBlocker,
				InfluenceScore:     score,
				EngagementPriority: priorityFor(score),
				RuleTrace:          []string{"group:blocker", "department:" + dept, "tier:6"},
			}
		}
	}

	return model.RoleAssignment{
		Role:               model.RoleStakeholder,
		InfluenceScore:     DefaultInfluence,
		EngagementPriority: priorityFor(DefaultInfluence),
		RuleTrace:          []string{"default:no-signal"},
	}
}

// matchGroup finds the most senior keyword match within a group. Tiers
// are ordered most-senior first, so the first hit wins ties.
func matchGroup(group ruleGroup, title string) (tier int, keyword string, ok bool) {
	if title == "" {
		return 0, "", false
	}
	padded := " " + title + " "
	for _, kt := range group.Tiers {
		for _, kw := range kt.Keywords {
			if strings.Contains(padded, " "+kw+" ") {
				return kt.Tier, kw, true
			}
		}
	}
	return 0, "", false
}

func priorityFor(score int) model.EngagementPriority {
	switch {
	case score >= 75:
		return model.PriorityHigh
	case score >= 50:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// normalizeTitle lowercases a job title and flattens punctuation so
// "VP, Sales & Marketing" matches the "vp" keyword cleanly.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
