package model

// Role is a buyer-group classification of a person's purchasing influence.
type Role string

const (
	RoleDecisionMaker Role = "decision-maker"
	RoleChampion      Role = "champion"
	RoleStakeholder   Role = "stakeholder"
	RoleBlocker       Role = "blocker"
	RoleIntroducer    Role = "introducer"
)

// EngagementPriority ranks how urgently a person should be engaged.
type EngagementPriority string

const (
	PriorityHigh   EngagementPriority = "high"
	PriorityMedium EngagementPriority = "medium"
	PriorityLow    EngagementPriority = "low"
)

// RoleAssignment is the classifier's output for one person. The rule
// trace records which rule group and keyword produced the role so the
// assignment can be audited later.
type RoleAssignment struct {
	Role               Role               `json:"role"`
	InfluenceScore     int                `json:"influence_score"` // 0-100
	EngagementPriority EngagementPriority `json:"engagement_priority"`
	RuleTrace          []string           `json:"rule_trace"`
}

// BuyerGroup is the per-company rollup over classified people.
type BuyerGroup struct {
	RoleCounts         map[Role]int       `json:"role_counts"`
	TotalInfluence     int                `json:"total_influence"`
	EngagementStrategy string             `json:"engagement_strategy"`
	Priority           EngagementPriority `json:"priority"`
}
