// order.go computes the publish order for a set of workspace members.
package workspace

import (
	"fmt"

	"github.com/dominikbraun/graph"

	"github.com/tidegate/stevedore/internal/model"
)

// PublishOrder sorts packages so every package comes after the workspace
// siblings it depends on. The registry must already hold a dependency's
// version before a dependent that pins it can be verified server-side,
// which is exactly a topological order over the path-dependency graph.
//
// Ties break alphabetically, so the order is deterministic across runs.
// A dependency cycle is a workspace error: cargo cannot publish either
// side of it first.
func PublishOrder(pkgs []*model.Package) ([]*model.Package, error) {
	byName := make(map[string]*model.Package, len(pkgs))
	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())

	for _, pkg := range pkgs {
		if err := g.AddVertex(pkg.Name); err != nil {
			return nil, fmt.Errorf("failed to add %q to the dependency graph: %w", pkg.Name, err)
		}
		byName[pkg.Name] = pkg
	}

	for _, pkg := range pkgs {
		for _, dep := range pkg.InternalDeps {
			if _, ok := byName[dep]; !ok {
				// Depends on a member outside the selected set; the
				// preflight check decides whether that is acceptable.
				continue
			}
			// Edge from dependency to dependent so dependencies sort first.
			if err := g.AddEdge(dep, pkg.Name); err != nil {
				return nil, model.WrapCLIError(model.ExitWorkspaceError,
					fmt.Sprintf("dependency cycle between %q and %q", dep, pkg.Name), err)
			}
		}
	}

	order, err := graph.StableTopologicalSort(g, func(a, b string) bool { return a < b })
	if err != nil {
		return nil, model.WrapCLIError(model.ExitWorkspaceError,
			"cannot order workspace members for publishing", err)
	}

	sorted := make([]*model.Package, 0, len(order))
	for _, name := range order {
		sorted = append(sorted, byName[name])
	}
	return sorted, nil
}
