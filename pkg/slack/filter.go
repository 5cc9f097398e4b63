package slack

import (
	"fmt"
	"strings"

	"github.com/oursky/experiment-runner/pkg/experiments"

	"github.com/samber/lo"
)

// MessageFilter selects the finished jobs worth a message. An empty filter
// passes every job.
type MessageFilter struct {
	statuses []experiments.Status
}

func NewFilter(statuses []string) (MessageFilter, error) {
	var unsupported []string
	filter := MessageFilter{}
	for _, s := range statuses {
		status := experiments.Status(s)
		if !status.IsTerminal() {
			unsupported = append(unsupported, s)
			continue
		}
		filter.statuses = append(filter.statuses, status)
	}

	if len(unsupported) > 0 {
		return MessageFilter{}, fmt.Errorf("unsupported statuses: %s", strings.Join(unsupported, ", "))
	}
	return filter, nil
}

func (f MessageFilter) Pass(job *experiments.Job) bool {
	if len(f.statuses) == 0 {
		return true
	}
	return lo.Contains(f.statuses, job.Status)
}
