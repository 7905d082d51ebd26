// Package notify holds the contract with the notification collaborator.
// Delivery itself lives outside this system; grading only fires and forgets.
package notify

import (
	"context"
	"log"
)

// ResultNotice is sent after grading completes for an exam that shows
// results immediately.
type ResultNotice struct {
	AttemptID string
	ExamID    string
	StudentID string
	Score     float64
	Passed    *bool
}

type Notifier interface {
	// ResultReady must never be allowed to fail or roll back grading;
	// callers log errors and move on.
	ResultReady(ctx context.Context, n ResultNotice) error
}

// LogNotifier is the default collaborator stand-in: it just logs.
type LogNotifier struct{}

func (LogNotifier) ResultReady(_ context.Context, n ResultNotice) error {
	log.Printf("result ready: attempt=%s exam=%s student=%s score=%.2f", n.AttemptID, n.ExamID, n.StudentID, n.Score)
	return nil
}
