package transport

import "time"

// Request DTOs
type ChangeLeadStageRequest struct {
	Stage        string `json:"stage" validate:"required,notblank,max=100"`
	TriggeredBy  string `json:"triggeredBy,omitempty" validate:"omitempty,oneof=manual system activity"`
	ActivityType string `json:"activityType,omitempty" validate:"omitempty,max=50"`
	Outcome      string `json:"outcome,omitempty" validate:"omitempty,max=200"`
	ActivityID   string `json:"activityId,omitempty" validate:"omitempty,max=64"`
	Reason       string `json:"reason,omitempty" validate:"omitempty,max=500"`
	UserID       string `json:"userId,omitempty" validate:"omitempty,max=64"`
}

type SyncDealStageRequest struct {
	LeadStages []string `json:"leadStages" validate:"omitempty,max=100,dive,max=100"`
	Stage      string   `json:"stage,omitempty" validate:"omitempty,max=100"`
	Reason     string   `json:"reason,omitempty" validate:"omitempty,max=500"`
	UserID     string   `json:"userId,omitempty" validate:"omitempty,max=64"`
}

type BulkRecalcRequest struct {
	DryRun bool `json:"dryRun"`
}

// Response DTOs
type ChangeLeadStageResponse struct {
	LeadID            string    `json:"leadId"`
	PreviousStage     string    `json:"previousStage"`
	Stage             string    `json:"stage"`
	StageChangedAt    time.Time `json:"stageChangedAt"`
	StageHistoryCount int       `json:"stageHistoryCount"`
}

type SyncDealStageResponse struct {
	DealID          string `json:"dealId"`
	Changed         bool   `json:"changed"`
	PreviousStage   string `json:"previousStage"`
	Stage           string `json:"stage"`
	StageSyncReason string `json:"stageSyncReason,omitempty"`
}

type StageHistoryEntry struct {
	Stage           string     `json:"stage"`
	EnteredAt       time.Time  `json:"enteredAt"`
	ExitedAt        *time.Time `json:"exitedAt,omitempty"`
	DaysInStage     *int       `json:"daysInStage,omitempty"`
	TriggeredBy     string     `json:"triggeredBy"`
	FromStage       string     `json:"fromStage,omitempty"`
	ActivityType    string     `json:"activityType,omitempty"`
	Outcome         string     `json:"outcome,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	ActivityID      string     `json:"activityId,omitempty"`
	TriggeredByUser string     `json:"triggeredByUser,omitempty"`
}

type StageHistoryResponse struct {
	LeadID            string              `json:"leadId,omitempty"`
	DealID            string              `json:"dealId,omitempty"`
	CurrentStage      string              `json:"currentStage"`
	StageChangedAt    *time.Time          `json:"stageChangedAt"`
	StageHistory      []StageHistoryEntry `json:"stageHistory"`
	TotalStageChanges int                 `json:"totalStageChanges"`
}

type DensityEntry struct {
	Stage          string   `json:"stage"`
	Count          int      `json:"count"`
	Percentage     float64  `json:"percentage"`
	AvgDaysInStage float64  `json:"avgDaysInStage"`
	ConversionRate *float64 `json:"conversionRate"`
	IsBottleneck   bool     `json:"isBottleneck"`
}

type DensityResponse struct {
	TotalLeads            int            `json:"totalLeads"`
	OverallConversionRate float64        `json:"overallConversionRate"`
	Density               []DensityEntry `json:"density"`
}

type StalledDeal struct {
	DealID               string     `json:"dealId"`
	Title                string     `json:"title"`
	Stage                string     `json:"stage"`
	StageChangedAt       *time.Time `json:"stageChangedAt"`
	LastActivityAt       *time.Time `json:"lastActivityAt"`
	DaysSinceStageChange int        `json:"daysSinceStageChange"`
	DaysSinceActivity    int        `json:"daysSinceActivity"`
	Reasons              []string   `json:"reasons"`
	Severity             string     `json:"severity"`
	SuggestedAction      string     `json:"suggestedAction"`
}

type StalledThresholds struct {
	DaysSinceStageChange int `json:"daysSinceStageChange"`
	DaysNoActivity       int `json:"daysNoActivity"`
}

type StalledResponse struct {
	Count        int               `json:"count"`
	StalledDeals []StalledDeal     `json:"stalledDeals"`
	Thresholds   StalledThresholds `json:"thresholds"`
}

type HealthBreakdown struct {
	Stage             string  `json:"stage"`
	StageScore        float64 `json:"stageScore"`
	ActivityScore     float64 `json:"activityScore"`
	ActivityCount     int     `json:"activityCount"`
	OwnerResponseRate float64 `json:"ownerResponseRate"`
	OwnerRisk         float64 `json:"ownerRisk"`
}

type Health struct {
	Score     int             `json:"score"`
	Label     string          `json:"label"`
	Color     string          `json:"color"`
	Breakdown HealthBreakdown `json:"breakdown"`
}

type HealthResponse struct {
	DealID string `json:"dealId"`
	Health Health `json:"health"`
}

type Score struct {
	Score int    `json:"score"`
	Color string `json:"color"`
	Label string `json:"label"`
}

type ScoresResponse struct {
	Scores map[string]Score `json:"scores"`
}

type BulkRecalcError struct {
	LeadID string `json:"leadId"`
	Error  string `json:"error"`
}

type BulkRecalcResponse struct {
	Processed   int               `json:"processed"`
	Updated     int               `json:"updated"`
	Skipped     int               `json:"skipped"`
	Errors      []BulkRecalcError `json:"errors"`
	DryRun      bool              `json:"dryRun"`
	Interrupted bool              `json:"interrupted"`
}

type BulkRecalcQueuedResponse struct {
	Status string `json:"status"`
	TaskID string `json:"taskId"`
	DryRun bool   `json:"dryRun"`
}
