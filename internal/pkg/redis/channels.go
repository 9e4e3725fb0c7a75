package redis

import "fmt"

const (
	// ChannelJobEventsPrefix is the prefix for job-specific event channels.
	ChannelJobEventsPrefix = "job_events:"
)

// GetJobEventsChannel returns the job-specific channel name for mirroring
// job events to external consumers.
func GetJobEventsChannel(jobID string) string {
	return fmt.Sprintf("%s%s", ChannelJobEventsPrefix, jobID)
}
