package queue

import (
	"context"
	"fmt"
)

// Step is one stage of a sequential flow. Run receives the outputs of
// the steps it depends on, keyed by step name.
type Step struct {
	Name      string
	DependsOn []string
	Run       func(ctx context.Context, upstream map[string][]byte) ([]byte, error)
}

// RunFlow executes steps in an order satisfying their dependencies and
// returns each step's output. The first failing step aborts the flow.
func RunFlow(ctx context.Context, steps []Step) (map[string][]byte, error) {
	byName := make(map[string]Step, len(steps))
	for _, step := range steps {
		if step.Name == "" {
			return nil, fmt.Errorf("flow step without a name")
		}
		if step.Run == nil {
			return nil, fmt.Errorf("flow step %q has no run function", step.Name)
		}
		if _, dup := byName[step.Name]; dup {
			return nil, fmt.Errorf("duplicate flow step %q", step.Name)
		}
		byName[step.Name] = step
	}

	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("flow step %q depends on unknown step %q", step.Name, dep)
			}
		}
	}

	results := make(map[string][]byte, len(steps))
	done := make(map[string]bool, len(steps))

	var run func(name string, trail map[string]bool) error
	run = func(name string, trail map[string]bool) error {
		if done[name] {
			return nil
		}
		if trail[name] {
			return fmt.Errorf("flow step %q is part of a dependency cycle", name)
		}
		trail[name] = true
		step := byName[name]
		for _, dep := range step.DependsOn {
			if err := run(dep, trail); err != nil {
				return err
			}
		}
		delete(trail, name)

		upstream := make(map[string][]byte, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			upstream[dep] = results[dep]
		}

		output, err := step.Run(ctx, upstream)
		if err != nil {
			return fmt.Errorf("flow step %q failed: %w", name, err)
		}
		results[name] = output
		done[name] = true
		return nil
	}

	for _, step := range steps {
		if err := run(step.Name, make(map[string]bool)); err != nil {
			return results, err
		}
	}
	return results, nil
}
