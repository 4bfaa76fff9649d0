package scheduler

import (
	"regexp"
	"sort"
)

// rolePattern maps a keyword pattern to the roles it implies.
type rolePattern struct {
	re    *regexp.Regexp
	roles []Role
}

// rolePatterns is evaluated in order; every matching pattern contributes its roles.
var rolePatterns = []rolePattern{
	{regexp.MustCompile(`(?i)\b(e-?mails?|send|messages?|notify|notifications?|announce|reach out|follow[- ]up|reply|call)\b`), []Role{RoleCommunication}},
	{regexp.MustCompile(`(?i)\b(write|draft|blog|posts?|articles?|copy|newsletter|documentation|content|slides?)\b`), []Role{RoleContent}},
	{regexp.MustCompile(`(?i)\b(research|investigate|explore|survey|competitors?|market|benchmark|look up)\b`), []Role{RoleResearch}},
	{regexp.MustCompile(`(?i)\b(schedule|scheduling|meetings?|calendar|book|appointments?|deadlines?|agenda)\b`), []Role{RoleScheduling}},
	{regexp.MustCompile(`(?i)\b(analy[sz]e|analysis|reports?|metrics|kpis?|evaluate|assess|audit|forecast)\b`), []Role{RoleAnalysis}},
	{regexp.MustCompile(`(?i)\b(coordinate|delegate|assign|organi[sz]e|handoff|align)\b`), []Role{RoleCoordination}},
	{regexp.MustCompile(`(?i)\b(campaign|launch)\b`), []Role{RoleContent, RoleCommunication}},
	{regexp.MustCompile(`(?i)\b(onboard|onboarding)\b`), []Role{RoleCommunication, RoleCoordination}},
}

// Classify returns the roles implied by text, de-duplicated and in canonical
// order. Text matching no pattern is assigned the coordination role, so the
// result is never empty.
func Classify(text string) []Role {
	set := make(map[Role]bool)
	for _, p := range rolePatterns {
		if !p.re.MatchString(text) {
			continue
		}
		for _, r := range p.roles {
			set[r] = true
		}
	}

	if len(set) == 0 {
		return []Role{RoleCoordination}
	}

	roles := make([]Role, 0, len(set))
	for r := range set {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}
