package mlwatch

import (
	"context"
	"log/slog"
)

// JobOutcome classifies how a test job finished.
type JobOutcome int

const (
	// JobSucceeded means the job completed normally.
	JobSucceeded JobOutcome = iota
	// JobFailed means the job exited with a failure.
	JobFailed
	// JobTimedOut means the job was killed after exceeding its deadline.
	JobTimedOut
)

// Code returns the outcome as the numeric job_status metric value.
func (o JobOutcome) Code() float64 {
	return float64(o)
}

func (o JobOutcome) String() string {
	switch o {
	case JobSucceeded:
		return "success"
	case JobFailed:
		return "failure"
	case JobTimedOut:
		return "timeout"
	default:
		return "unknown"
	}
}

// JobStatus is the normalized completion record of a test job.
type JobStatus struct {
	Outcome JobOutcome
	// CompletedAt is fractional unix seconds.
	CompletedAt float64
}

// Point renders the status as the job_status metric point.
func (s JobStatus) Point() MetricPoint {
	return MetricPoint{Value: s.Outcome.Code(), WallTime: s.CompletedAt}
}

// RawJobStatus is the completion record as the job scheduler reports it.
type RawJobStatus struct {
	Succeeded bool `json:"succeeded"`

	// CompletionTime may be absent when the job was killed before it could
	// record completion; StartTime then stands in for it.
	CompletionTime *float64 `json:"completion_time"`
	StartTime      float64  `json:"start_time"`

	// ConditionReasons are the scheduler's terminal condition reasons.
	// "DeadlineExceeded" marks a timeout.
	ConditionReasons []string `json:"condition_reasons"`
}

// NormalizeJobStatus folds a scheduler record into a JobStatus. Failures
// with a DeadlineExceeded condition classify as timeouts; a missing
// completion time falls back to the start time.
func NormalizeJobStatus(raw RawJobStatus) JobStatus {
	completed := raw.StartTime
	if raw.CompletionTime != nil {
		completed = *raw.CompletionTime
	} else {
		slog.Warn("job has no completion time; falling back to start time",
			"start_time", raw.StartTime)
	}

	outcome := JobFailed
	if raw.Succeeded {
		outcome = JobSucceeded
	} else {
		for _, reason := range raw.ConditionReasons {
			if reason == "DeadlineExceeded" {
				outcome = JobTimedOut
				break
			}
		}
	}
	return JobStatus{Outcome: outcome, CompletedAt: completed}
}

// JobStatusSource reports the completion record of the job named in the
// trigger. Implementations query whatever scheduler ran the test.
type JobStatusSource interface {
	Status(ctx context.Context, jobName string) (RawJobStatus, error)
}
