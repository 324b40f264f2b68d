package plugin

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/arbor/internal/apperr"
)

// Resolve orders plugins by their dependency graph.
//
// Every dependency name must be defined; that is checked before anything
// else. Each plugin then gets an incoming count equal to the number of
// plugins that list it (a plugin listing itself counts). Plugins nobody
// lists seed the queue; each dequeued plugin decrements its own
// dependencies, which are enqueued when they reach zero. A plugin therefore
// appears before the plugins it depends on. If the result is short, the
// graph has a cycle.
//
// Both failures are startup errors.
func Resolve(descriptors map[string]Descriptor) ([]string, error) {
	graph := make(map[string][]string, len(descriptors))
	for key, d := range descriptors {
		graph[strings.ToLower(strings.TrimSpace(key))] = d.normalizedDeps()
	}

	names := make([]string, 0, len(graph))
	for name := range graph {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, dep := range graph[name] {
			if _, ok := graph[dep]; !ok {
				return nil, apperr.Startup(
					fmt.Errorf("%w: %q requires %q", ErrDependencyNotFound, name, dep),
					"resolve plugins",
				)
			}
		}
	}

	incoming := make(map[string]int, len(graph))
	for _, name := range names {
		for _, dep := range graph[name] {
			incoming[dep]++
		}
	}

	queue := make([]string, 0, len(names))
	for _, name := range names {
		if incoming[name] == 0 {
			queue = append(queue, name)
		}
	}

	order := make([]string, 0, len(names))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)
		for _, dep := range graph[name] {
			incoming[dep]--
			if incoming[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(names) {
		return nil, apperr.Startup(
			fmt.Errorf("%w among %s", ErrCyclicDependency, strings.Join(unresolved(names, order), ", ")),
			"resolve plugins",
		)
	}
	return order, nil
}

func unresolved(all, placed []string) []string {
	seen := make(map[string]struct{}, len(placed))
	for _, n := range placed {
		seen[n] = struct{}{}
	}
	var out []string
	for _, n := range all {
		if _, ok := seen[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}
