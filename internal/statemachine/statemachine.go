// Package statemachine holds the pure Task/SubTask transition table. It
// is stateless: callers persist the current status on their own entity
// and pass it in on every call.
package statemachine

import (
	"github.com/stormino/vixsrc-downloader/internal/apperrors"
	"github.com/stormino/vixsrc-downloader/internal/taskmodel"
)

var legalEdges = map[taskmodel.Status]map[taskmodel.Status]bool{
	taskmodel.StatusQueued: {
		taskmodel.StatusExtracting: true,
		taskmodel.StatusCancelled:  true,
		taskmodel.StatusFailed:     true,
	},
	taskmodel.StatusExtracting: {
		taskmodel.StatusDownloading: true,
		taskmodel.StatusFailed:      true,
		taskmodel.StatusCancelled:   true,
		taskmodel.StatusNotFound:    true,
	},
	taskmodel.StatusDownloading: {
		taskmodel.StatusMerging:   true,
		taskmodel.StatusCompleted: true,
		taskmodel.StatusFailed:    true,
		taskmodel.StatusCancelled: true,
	},
	taskmodel.StatusMerging: {
		taskmodel.StatusCompleted: true,
		taskmodel.StatusFailed:    true,
		taskmodel.StatusCancelled: true,
	},
}

// IsValidTransition reports whether the directed edge from -> to is
// legal. Same-state transitions are always allowed (idempotent), even
// from a terminal state, since a no-op re-application of the current
// status must never be rejected.
func IsValidTransition(from, to taskmodel.Status) bool {
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	return legalEdges[from][to]
}

// ValidNextStates lists every status reachable from current in one hop,
// current itself always included.
func ValidNextStates(current taskmodel.Status) []taskmodel.Status {
	next := []taskmodel.Status{current}
	for to, ok := range legalEdges[current] {
		if ok {
			next = append(next, to)
		}
	}
	return next
}

// Transition returns the resulting state: target when the move is
// legal, current unchanged when it is rejected.
func Transition(current, target taskmodel.Status) taskmodel.Status {
	if IsValidTransition(current, target) {
		return target
	}
	return current
}

// TransitionOrThrow behaves like Transition but returns an
// IllegalTransition programmer-error instead of silently rejecting.
func TransitionOrThrow(taskID string, current, target taskmodel.Status) (taskmodel.Status, error) {
	if IsValidTransition(current, target) {
		return target, nil
	}
	return current, &apperrors.IllegalTransition{
		TaskID: taskID,
		From:   string(current),
		To:     string(target),
	}
}
