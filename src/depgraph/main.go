// Command depgraph generates a Graphviz DOT description of this
// workspace's module dependency graph, the way biscuit's own
// misc/depgraph tool does with a bare "go mod graph" pipe. Since
// this workspace is a multi-module replace-directive graph rather than
// a single versioned tree (every local package under src/ is its own
// module, stitched together by the root go.mod's replace block), a
// cycle in that graph is a real build hazard a single-module tree never
// has to consider, so this version additionally walks the edge list
// for cycles and, when asked for -deep, loads the source with
// golang.org/x/tools/go/packages, builds its SSA form, and runs
// golang.org/x/tools/go/pointer over every "main" package found to
// report any function pointer analysis proves is never called from
// one.
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/pointer"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

func main() {
	deep := flag.Bool("deep", false, "also run pointer analysis over every main package for dead-function reporting")
	flag.Parse()

	edges, err := moduleGraph()
	if err != nil {
		fmt.Fprintf(os.Stderr, "depgraph: %v\n", err)
		os.Exit(1)
	}

	writeDot(os.Stdout, edges)

	if cyc := findCycle(edges); cyc != nil {
		fmt.Fprintf(os.Stderr, "depgraph: import cycle detected: %v\n", cyc)
		os.Exit(1)
	}

	if *deep {
		if err := reportDeadFunctions("./..."); err != nil {
			fmt.Fprintf(os.Stderr, "depgraph: pointer analysis: %v\n", err)
			os.Exit(1)
		}
	}
}

type edge struct{ from, to string }

// moduleGraph shells out to "go mod graph" and parses it into edges this package can reason about
// beyond just printing.
func moduleGraph() ([]edge, error) {
	cmd := exec.Command("go", "mod", "graph")
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	var edges []edge
	for _, line := range bytes.Split(bytes.TrimSpace(output), []byte{'\n'}) {
		fields := bytes.Fields(line)
		if len(fields) != 2 {
			continue
		}
		edges = append(edges, edge{from: string(fields[0]), to: string(fields[1])})
	}
	return edges, nil
}

func writeDot(f *os.File, edges []edge) {
	w := bufio.NewWriter(f)
	defer w.Flush()
	w.WriteString("digraph deps {\n")
	for _, e := range edges {
		w.WriteString("    \"" + e.from + "\" -> \"" + e.to + "\";\n")
	}
	w.WriteString("}\n")
}

// findCycle does a plain DFS over edges and returns the first cycle
// found as a slice of node names, or nil if the graph is a DAG.
func findCycle(edges []edge) []string {
	adj := map[string][]string{}
	for _, e := range edges {
		adj[e.from] = append(adj[e.from], e.to)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var stack []string
	var cycle []string

	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = gray
		stack = append(stack, n)
		for _, m := range adj[n] {
			switch color[m] {
			case gray:
				// Found the back edge; trim stack to the cycle itself.
				for i, s := range stack {
					if s == m {
						cycle = append(append([]string{}, stack[i:]...), m)
						return true
					}
				}
			case white:
				if visit(m) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}

	for n := range adj {
		if color[n] == white {
			if visit(n) {
				return cycle
			}
		}
	}
	return nil
}

// reportDeadFunctions loads pattern's packages, builds their SSA form,
// and runs pointer analysis with every package named "main" as an
// entry point, printing any function the resulting call graph never
// reaches — a stronger, whole-program complement to "go vet"'s purely
// syntactic unused-code checks.
func reportDeadFunctions(pattern string) error {
	cfg := &packages.Config{Mode: packages.LoadAllSyntax}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		return err
	}
	if packages.PrintErrors(pkgs) > 0 {
		return fmt.Errorf("errors loading packages")
	}

	prog, ssapkgs := ssautil.AllPackages(pkgs, ssa.SanityCheckFunctions)
	prog.Build()

	var mains []*ssa.Package
	for _, p := range ssapkgs {
		if p != nil && p.Pkg.Name() == "main" {
			mains = append(mains, p)
		}
	}
	if len(mains) == 0 {
		fmt.Println("depgraph: no main packages found, skipping pointer analysis")
		return nil
	}

	result, err := pointer.Analyze(&pointer.Config{
		Mains:          mains,
		BuildCallGraph: true,
	})
	if err != nil {
		return err
	}

	reached := map[*ssa.Function]bool{}
	for fn := range result.CallGraph.Nodes {
		reached[fn] = true
	}

	all := ssautil.AllFunctions(prog)
	unreached := 0
	for fn := range all {
		if fn == nil || fn.Synthetic != "" {
			continue
		}
		if !reached[fn] {
			unreached++
			fmt.Printf("depgraph: unreached: %s\n", fn.String())
		}
	}
	fmt.Printf("depgraph: %d function(s) never reached from any main\n", unreached)
	return nil
}
