package postgres

const (
	// TableArchivedJobs is the name of the archived jobs table.
	TableArchivedJobs = "archived_jobs"
)
