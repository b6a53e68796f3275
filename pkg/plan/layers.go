package plan

import "sort"

// ExecutionLayers partitions the plan's agent indices into ordered layers via
// Kahn's algorithm: every dependency of an index in layer k lives in some
// layer < k. If the graph turns out cyclic the function degrades to fully
// sequential layering, one index per layer in index order.
func ExecutionLayers(p *ExecutionPlan) [][]int {
	n := len(p.Agents)
	if n == 0 {
		return nil
	}

	inDegree := make([]int, n)
	dependents := make([][]int, n)
	for i, a := range p.Agents {
		for _, dep := range a.DependsOn {
			if dep < 0 || dep >= n {
				continue
			}
			inDegree[i]++
			dependents[dep] = append(dependents[dep], i)
		}
	}

	var layers [][]int
	emitted := 0
	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	for len(ready) > 0 {
		layer := ready
		sort.Ints(layer)
		layers = append(layers, layer)
		emitted += len(layer)

		ready = nil
		for _, idx := range layer {
			for _, dep := range dependents[idx] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					ready = append(ready, dep)
				}
			}
		}
	}

	if emitted < n {
		return sequentialLayers(n)
	}
	return layers
}

func sequentialLayers(n int) [][]int {
	layers := make([][]int, n)
	for i := 0; i < n; i++ {
		layers[i] = []int{i}
	}
	return layers
}
