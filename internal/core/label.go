package core

import "fmt"

// taskLabelPrefix namespaces the crontab comment used to correlate a cron
// entry back to a Spruce task.
const taskLabelPrefix = "SpruceTask_"

// TaskLabel returns the stable crontab label for a task. The label is the
// sole key correlating a scheduled job to its task, so it must never change
// across reschedules.
func TaskLabel(taskID string) string {
	return fmt.Sprintf("%s%s", taskLabelPrefix, taskID)
}
