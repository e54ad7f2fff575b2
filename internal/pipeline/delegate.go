package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/uniguide/internal/reasoning"
)

// DelegateToolName is the tool given to workers that may delegate.
const DelegateToolName = "delegate"

// delegateTool forwards a question to a coworker's capability. The
// coworker gets no tools, so delegation is a single hop.
type delegateTool struct {
	from    *Worker
	workers map[string]*Worker
}

func newDelegateTool(from *Worker, workers map[string]*Worker) *delegateTool {
	return &delegateTool{from: from, workers: workers}
}

func (d *delegateTool) Name() string { return DelegateToolName }

func (d *delegateTool) Description() string {
	return "Ask a coworker a question and get their answer. Coworkers: " + strings.Join(d.coworkers(), ", ")
}

func (d *delegateTool) Parameters() []reasoning.Parameter {
	return []reasoning.Parameter{
		{Name: "worker", Type: "string", Description: "name of the coworker to ask", Required: true},
		{Name: "question", Type: "string", Description: "the question, with all context the coworker needs", Required: true},
	}
}

func (d *delegateTool) Call(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["worker"].(string)
	question, _ := args["question"].(string)
	if strings.TrimSpace(question) == "" {
		return "", errors.New("question is required")
	}
	if name == d.from.Name {
		return "", errors.New("cannot delegate to yourself")
	}
	w, ok := d.workers[name]
	if !ok || w.Capability == nil {
		return "", fmt.Errorf("unknown coworker %q, choose one of: %s", name, strings.Join(d.coworkers(), ", "))
	}

	return w.Capability.Reason(ctx, reasoning.Request{
		Worker:      w.Name,
		Role:        w.Role,
		Goal:        w.Goal,
		Backstory:   w.Backstory,
		Instruction: question,
	})
}

func (d *delegateTool) coworkers() []string {
	names := make([]string, 0, len(d.workers))
	for name := range d.workers {
		if name != d.from.Name {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
