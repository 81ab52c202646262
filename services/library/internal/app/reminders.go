package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Fabian0270/library-system/internal/util"
	"github.com/Fabian0270/library-system/pkg/domain"
	"github.com/Fabian0270/library-system/pkg/queue"
)

// reminderDedupTTL keeps a day's reminder key alive past the end of that day.
const reminderDedupTTL = 36 * time.Hour

// ReminderQueue accepts at most one reminder job per dedup key.
type ReminderQueue interface {
	EnqueueOnce(ctx context.Context, subjectID, dedupKey string, ttl time.Duration) (queue.JobStatus, bool, error)
}

// EnqueueOverdueReminders queues one reminder per overdue loan and day and
// returns how many new jobs were queued.
func (a *App) EnqueueOverdueReminders(ctx context.Context, q ReminderQueue) (int, error) {
	loans, err := a.ledger.ListOverdue(ctx)
	if err != nil {
		return 0, err
	}
	day := a.ledger.Today().Format(time.DateOnly)
	queued := 0
	for _, loan := range loans {
		_, created, err := q.EnqueueOnce(ctx, loan.ID, loan.ID+":"+day, reminderDedupTTL)
		if err != nil {
			return queued, fmt.Errorf("enqueue reminder for loan %s: %w", loan.ID, err)
		}
		if created {
			queued++
		}
	}
	return queued, nil
}

// RunReminderScanner scans for overdue loans every interval until ctx ends.
func (a *App) RunReminderScanner(ctx context.Context, q ReminderQueue, interval time.Duration) error {
	logger := util.LoggerFromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := a.EnqueueOverdueReminders(ctx, q)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn("overdue scan failed", "err", err)
		case n > 0:
			logger.Info("overdue reminders queued", "count", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// HandleReminder is the queue handler for overdue reminders. Loans returned
// or extended since the job was queued are skipped.
func (a *App) HandleReminder(ctx context.Context, job queue.JobStatus) error {
	loan, err := a.ledger.GetLoan(ctx, job.SubjectID)
	if errors.Is(err, domain.ErrLoanNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	today := a.ledger.Today()
	if !loan.OverdueOn(today) {
		return nil
	}
	principal := loan.UserID
	if user, ok, err := a.store.GetUserByID(ctx, loan.UserID); err != nil {
		return fmt.Errorf("fetch user: %w", err)
	} else if ok {
		principal = user.Email
	}
	daysOverdue := int(today.Sub(loan.DueDate).Hours() / 24)
	return a.audit.Record(ctx, domain.SecurityEvent{
		Type:      domain.EventOverdueReminder,
		Principal: principal,
		Success:   true,
		Details: map[string]string{
			"loanId":      loan.ID,
			"bookId":      loan.BookID,
			"dueDate":     loan.DueDate.Format(time.DateOnly),
			"daysOverdue": strconv.Itoa(daysOverdue),
			"jobId":       job.ID,
		},
	})
}
