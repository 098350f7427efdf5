package mlwatch

import "testing"

func completion(v float64) *float64 { return &v }

func TestNormalizeJobStatus(t *testing.T) {
	tests := []struct {
		name string
		raw  RawJobStatus
		want JobStatus
	}{
		{
			name: "success",
			raw:  RawJobStatus{Succeeded: true, CompletionTime: completion(2000), StartTime: 1000},
			want: JobStatus{Outcome: JobSucceeded, CompletedAt: 2000},
		},
		{
			name: "failure",
			raw:  RawJobStatus{CompletionTime: completion(2000), StartTime: 1000},
			want: JobStatus{Outcome: JobFailed, CompletedAt: 2000},
		},
		{
			name: "timeout",
			raw: RawJobStatus{
				CompletionTime:   completion(2000),
				StartTime:        1000,
				ConditionReasons: []string{"BackoffLimitExceeded", "DeadlineExceeded"},
			},
			want: JobStatus{Outcome: JobTimedOut, CompletedAt: 2000},
		},
		{
			name: "missing completion falls back to start",
			raw:  RawJobStatus{Succeeded: true, StartTime: 1000},
			want: JobStatus{Outcome: JobSucceeded, CompletedAt: 1000},
		},
		{
			name: "deadline reason ignored on success",
			raw: RawJobStatus{
				Succeeded:        true,
				CompletionTime:   completion(2000),
				ConditionReasons: []string{"DeadlineExceeded"},
			},
			want: JobStatus{Outcome: JobSucceeded, CompletedAt: 2000},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeJobStatus(tt.raw)
			if got != tt.want {
				t.Errorf("NormalizeJobStatus() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestJobOutcomeCodes(t *testing.T) {
	if JobSucceeded.Code() != 0 || JobFailed.Code() != 1 || JobTimedOut.Code() != 2 {
		t.Errorf("outcome codes = %v/%v/%v, want 0/1/2",
			JobSucceeded.Code(), JobFailed.Code(), JobTimedOut.Code())
	}
}

func TestJobStatusPoint(t *testing.T) {
	point := JobStatus{Outcome: JobTimedOut, CompletedAt: 1234}.Point()
	if point.Value != 2 || point.WallTime != 1234 {
		t.Errorf("Point() = %+v, want value 2 at 1234", point)
	}
}
