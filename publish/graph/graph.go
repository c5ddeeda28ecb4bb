// Package graph orders contract deployments so every constructor dependency
// is deployed before the contract that takes its address.
package graph

import (
	"fmt"
	"strings"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
)

// CyclicDependencyError names the contracts that could not be ordered
// because they depend on each other.
type CyclicDependencyError struct {
	Members []publish.Kind
}

func (e *CyclicDependencyError) Error() string {
	names := make([]string, len(e.Members))
	for i, k := range e.Members {
		names[i] = string(k)
	}
	return fmt.Sprintf("cyclic contract dependency: %s", strings.Join(names, " -> "))
}

// ResolveOrder returns a topological order of specs. Among contracts that
// are ready at the same time the one declared first wins, so the result is
// stable across runs.
func ResolveOrder(specs []publish.ContractSpec) ([]publish.Kind, error) {
	index := make(map[publish.Kind]int, len(specs))
	for i, s := range specs {
		if s.Kind == "" {
			return nil, publish.Configf("spec[%d] has no kind", i)
		}
		if _, dup := index[s.Kind]; dup {
			return nil, publish.Configf("contract %s declared twice", s.Kind)
		}
		index[s.Kind] = i
	}

	indegree := make([]int, len(specs))
	dependents := make([][]int, len(specs))
	for i, s := range specs {
		for _, dep := range s.Deps() {
			j, ok := index[dep]
			if !ok {
				return nil, publish.Configf("contract %s depends on undeclared contract %s", s.Kind, dep)
			}
			if j == i {
				return nil, &CyclicDependencyError{Members: []publish.Kind{s.Kind, s.Kind}}
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	order := make([]publish.Kind, 0, len(specs))
	done := make([]bool, len(specs))
	for len(order) < len(specs) {
		next := -1
		for i := range specs {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, &CyclicDependencyError{Members: findCycle(specs, index, done)}
		}
		done[next] = true
		order = append(order, specs[next].Kind)
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}
	return order, nil
}

// findCycle walks dependency edges among the unresolved specs until a node
// repeats. Every unresolved node lies on or leads to a cycle, so the walk
// always terminates on one.
func findCycle(specs []publish.ContractSpec, index map[publish.Kind]int, done []bool) []publish.Kind {
	start := -1
	for i := range specs {
		if !done[i] {
			start = i
			break
		}
	}
	seenAt := map[int]int{}
	var path []int
	for cur := start; ; {
		if pos, ok := seenAt[cur]; ok {
			members := make([]publish.Kind, 0, len(path)-pos+1)
			for _, i := range path[pos:] {
				members = append(members, specs[i].Kind)
			}
			return append(members, specs[cur].Kind)
		}
		seenAt[cur] = len(path)
		path = append(path, cur)
		for _, dep := range specs[cur].Deps() {
			if j := index[dep]; !done[j] {
				cur = j
				break
			}
		}
	}
}
