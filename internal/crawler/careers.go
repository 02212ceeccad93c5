package crawler

import (
	"strings"
	"time"

	"github.com/sells-group/signal-pipeline/internal/model"
)

// jobTitleKeywords are the role nouns that mark a line as a candidate job
// title. Matching is case-insensitive and deliberately coarse.
var jobTitleKeywords = []string{
	"engineer", "developer", "manager", "director",
	"analyst", "designer", "architect", "lead",
	"data scientist", "product manager", "sales",
}

// jobTitleMaxLen is the short-line threshold: anything longer is assumed to
// be descriptive copy, not a title.
const jobTitleMaxLen = 100

// ExtractJobPostings scans extracted page text line-by-line for candidate job
// titles, capped at limit matches in scan order.
func ExtractJobPostings(text string, limit int, now time.Time) []model.JobPosting {
	if limit <= 0 {
		limit = 50
	}

	var jobs []model.JobPosting
	for line := range strings.Lines(text) {
		line = strings.TrimSpace(line)
		if line == "" || len(line) >= jobTitleMaxLen {
			continue
		}
		lower := strings.ToLower(line)
		for _, keyword := range jobTitleKeywords {
			if strings.Contains(lower, keyword) {
				jobs = append(jobs, model.JobPosting{Title: line, DetectedAt: now})
				break
			}
		}
		if len(jobs) >= limit {
			break
		}
	}
	return jobs
}
