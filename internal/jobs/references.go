package jobs

import (
	"context"
	"fmt"
	"time"

	"docify/internal/domain"
)

// ReferencedFiles returns the paths still needed by jobs that are running or
// not yet expired, excluding the job named except.
func ReferencedFiles(ctx context.Context, repo domain.JobRepository, asOf time.Time, except string) (map[string]bool, error) {
	live, err := repo.ListLive(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("list live jobs: %w", err)
	}
	refs := make(map[string]bool)
	for i := range live {
		if live[i].ID == except {
			continue
		}
		for _, p := range live[i].Paths() {
			refs[p] = true
		}
	}
	return refs, nil
}
