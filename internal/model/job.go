package model

import "time"

// Job priorities. Lower values are serviced sooner.
const (
	PriorityForeground = 1 // user is actively waiting on this fetch
	PriorityPrewarm    = 2 // pre-warm triggered by a list view
	PriorityBackground = 4 // background sync hydration
)

// JobData names the hydration target of a Job.
type JobData struct {
	UID    uint32
	Folder string
	User   string
}

// Job is one unit of hydration work handed to the per-user job queue.
type Job struct {
	ID       string
	Priority int
	AddedAt  time.Time
	Data     JobData
	Attempts int
}
