package dtree

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// WriteDOT 以 graphviz DOT 格式导出树结构
func (t *Tree) WriteDOT(w io.Writer, featureNames []string) error {
	if t == nil || t.Root == nil {
		return ErrNotFitted
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph Tree {")
	fmt.Fprintln(bw, `node [shape=box, style="filled, rounded", fontname="helvetica"] ;`)

	next := 0
	var walk func(n *Node) int
	walk = func(n *Node) int {
		id := next
		next++
		if n.IsLeaf() {
			fmt.Fprintf(bw, "%d [label=\"mse = %.4f\\nsamples = %d\\nvalue = %.4f\", fillcolor=\"#e5813933\"] ;\n",
				id, n.Impurity, n.Samples, n.Value)
			return id
		}
		fmt.Fprintf(bw, "%d [label=\"%s <= %.4f\\nmse = %.4f\\nsamples = %d\\nvalue = %.4f\", fillcolor=\"#ffffff\"] ;\n",
			id, escape(featureName(featureNames, n.Feature)), n.Threshold, n.Impurity, n.Samples, n.Value)
		left := walk(n.Left)
		fmt.Fprintf(bw, "%d -> %d [headlabel=\"True\"] ;\n", id, left)
		right := walk(n.Right)
		fmt.Fprintf(bw, "%d -> %d [headlabel=\"False\"] ;\n", id, right)
		return id
	}
	walk(t.Root)

	fmt.Fprintln(bw, "}")
	return bw.Flush()
}

func featureName(names []string, f int) string {
	if f >= 0 && f < len(names) {
		return names[f]
	}
	return fmt.Sprintf("x[%d]", f)
}

func escape(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
