package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/commando-rewards/internal/notifier"
	"github.com/suspectuso/commando-rewards/internal/storage"
)

// Task is a sponsor task rewarded once per user
type Task struct {
	ID          int             `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Reward      decimal.Decimal `json:"reward"`
	Channel     string          `json:"channel"`
}

func taskKey(taskID int, userID int64) string {
	return fmt.Sprintf("task:%d:%d", taskID, userID)
}

func sortedTasks(doc map[string]Task) []Task {
	tasks := make([]Task, 0, len(doc))
	for _, t := range doc {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// Tasks returns the whole catalog ordered by ID
func (l *Ledger) Tasks(ctx context.Context) ([]Task, error) {
	doc, err := l.stores.Tasks.Snapshot(ctx)
	if err != nil {
		return nil, persistErr("load tasks", err)
	}
	return sortedTasks(doc), nil
}

// TasksFor returns the tasks userID has not been credited for yet
func (l *Ledger) TasksFor(ctx context.Context, userID int64) ([]Task, error) {
	all, err := l.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	done, err := l.storage.CreditKeys(ctx, userID, "task:")
	if err != nil {
		return nil, persistErr("load completed tasks", err)
	}

	open := make([]Task, 0, len(all))
	for _, t := range all {
		if !done[taskKey(t.ID, userID)] {
			open = append(open, t)
		}
	}
	return open, nil
}

// CreateTask adds a task with the next free ID
func (l *Ledger) CreateTask(ctx context.Context, adminID int64, t Task) (*Task, error) {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return nil, err
	}

	t.Title = strings.TrimSpace(t.Title)
	t.Channel = strings.TrimSpace(t.Channel)
	if t.Title == "" || t.Channel == "" || !t.Reward.IsPositive() {
		return nil, fmt.Errorf("%w: title, channel and a positive reward are required", ErrInvalidInput)
	}

	err := l.stores.Tasks.Update(ctx, func(doc map[string]Task) error {
		next := 0
		for _, existing := range doc {
			next = max(next, existing.ID)
		}
		t.ID = next + 1
		doc[strconv.Itoa(t.ID)] = t
		return nil
	})
	if err != nil {
		return nil, persistErr("save task", err)
	}

	l.log.Info("task created", "task_id", t.ID, "admin_id", adminID)
	return &t, nil
}

// DeleteTask removes a task from the catalog. Completion markers stay.
func (l *Ledger) DeleteTask(ctx context.Context, adminID int64, taskID int) error {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return err
	}

	err := l.stores.Tasks.Update(ctx, func(doc map[string]Task) error {
		key := strconv.Itoa(taskID)
		if _, ok := doc[key]; !ok {
			return ErrNotFound
		}
		delete(doc, key)
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return persistErr("delete task", err)
	}

	l.log.Info("task deleted", "task_id", taskID, "admin_id", adminID)
	l.notify.Operator(ctx, notifier.TaskDeleted(adminID, taskID))
	return nil
}

// CompleteTask verifies the task's channel and credits its reward once
func (l *Ledger) CompleteTask(ctx context.Context, userID int64, taskID int) (*storage.User, *Task, error) {
	task, ok, err := l.stores.Tasks.Get(ctx, strconv.Itoa(taskID))
	if err != nil {
		return nil, nil, persistErr("load task", err)
	}
	if !ok {
		return nil, nil, ErrNotFound
	}

	has, err := l.storage.HasCredit(ctx, taskKey(taskID, userID))
	if err != nil {
		return nil, nil, persistErr("check task credit", err)
	}
	if has {
		return nil, &task, ErrAlreadyCredited
	}

	if !l.verifier.IsMember(ctx, userID, task.Channel) {
		return nil, &task, ErrNotSubscribed
	}

	user, err := l.CreditOnce(ctx, taskKey(taskID, userID), task.Reward, userID)
	if err != nil {
		return nil, &task, err
	}
	return user, &task, nil
}
