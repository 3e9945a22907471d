package domain

import "strings"

// WinningLeadStage picks the highest-priority lead stage. Ties keep the
// first label seen. ok is false for an empty or all-blank input.
func (v *Vocabulary) WinningLeadStage(labels []string) (winner string, ok bool) {
	best := 0.0
	for _, raw := range labels {
		label := v.Canonical(raw)
		if label == "" {
			continue
		}
		p := v.Priority(label)
		if !ok || p > best {
			winner, best, ok = label, p, true
		}
	}
	return winner, ok
}

// SyncTarget computes the deal stage a sync should land on, starting from
// the override, else the current stage, else Open. A mapped winning lead
// stage replaces that default.
func (v *Vocabulary) SyncTarget(current, override string, leadStages []string) string {
	target := strings.TrimSpace(override)
	if target == "" {
		target = strings.TrimSpace(current)
	}
	if target == "" {
		target = StageOpen
	}
	target = v.Canonical(target)

	if winner, ok := v.WinningLeadStage(leadStages); ok {
		if mapped, ok := v.DealStageFor(winner); ok {
			target = mapped
		}
	}
	return target
}

// SyncReason describes the lead stages that drove a sync.
func SyncReason(leadStages []string) string {
	cleaned := make([]string, 0, len(leadStages))
	for _, s := range leadStages {
		if t := strings.TrimSpace(s); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	if len(cleaned) == 0 {
		return "Synced without linked lead stages"
	}
	return "Synced from lead stages: " + strings.Join(cleaned, ", ")
}
