package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func LogStatusKey(refID uuid.UUID) string {
	return fmt.Sprintf("log:%s", refID)
}

func JobLockKey(jobID uuid.UUID) string {
	return fmt.Sprintf("lock:job:%s", jobID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}

// SearchResultKey is scoped to the bug index snapshot so a refresh
// invalidates earlier results.
func SearchResultKey(snapshotVersion int64, termHash string) string {
	return fmt.Sprintf("bugs:search:%d:%s", snapshotVersion, termHash)
}
