package domain

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// CanTransition reports whether a job status change is allowed.
// processing -> pending is the stale-claim reset performed by reconciliation.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusDone || to == StatusFailed || to == StatusPending
	default:
		return false
	}
}

// IsTerminal reports whether the status is final.
func IsTerminal(s Status) bool {
	return s == StatusDone || s == StatusFailed
}

type Job struct {
	ID          int64
	UID         string
	Filename    string
	Status      Status
	Owner       string
	Attempts    int64
	SubmittedAt time.Time
	FinishedAt  *time.Time
	Explanation *ExplanationDocument
}

// Slide is one extracted slide: the first extracted section is the title,
// the rest are the body sections in encounter order.
type Slide struct {
	Title    string
	Sections []string
}

type Deck []Slide

type SlideSummary struct {
	Title       string
	Explanation string
}

type ExplanationDocument struct {
	Topic  string             `json:"summary_topic"`
	Slides []SlideExplanation `json:"slides"`
}

type SlideExplanation struct {
	Number  int               `json:"slide number"`
	Title   string            `json:"slide title"`
	Content map[string]string `json:"slide content"`
}
