package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskLastActivityRecalc = "pipeline.last_activity.recalc"

type LastActivityRecalcPayload struct {
	DryRun bool `json:"dryRun"`
}

func NewLastActivityRecalcTask(payload LastActivityRecalcPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLastActivityRecalc, data), nil
}

func ParseLastActivityRecalcPayload(task *asynq.Task) (LastActivityRecalcPayload, error) {
	var payload LastActivityRecalcPayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return LastActivityRecalcPayload{}, err
	}
	return payload, nil
}
