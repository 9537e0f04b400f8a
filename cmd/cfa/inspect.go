package main

import (
	"fmt"
	"io"
	"strings"

	cfa "github.com/qri-io/cfa-go"
	"github.com/spf13/cobra"
)

var inspectFragments bool

func init() {
	inspectCmd.Flags().BoolVar(&inspectFragments, "fragments", false, "List every fragment and its locations")
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file> [variable...]",
	Short: "Describe the aggregation variables of a dataset and how they partition",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := openDataset(args[0])
		if err != nil {
			return err
		}
		defer ds.Close()

		names := args[1:]
		if len(names) == 0 {
			if names, err = ds.Variables(); err != nil {
				return err
			}
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "conventions: %s\n", ds.Conventions())
		if len(names) == 0 {
			fmt.Fprintln(w, "no aggregation variables")
			return nil
		}
		for _, name := range names {
			v, err := ds.Variable(name)
			if err != nil {
				return err
			}
			describe(w, v, inspectFragments)
		}
		return nil
	},
}

func describe(w io.Writer, v *cfa.Variable, fragments bool) {
	fmt.Fprintf(w, "\n%s(%s) %s", v.Name, strings.Join(v.Dims, ", "), v.Dtype.Human())
	if v.Units != "" {
		fmt.Fprintf(w, " [%s]", v.Units)
	}
	fmt.Fprintf(w, "\n  shape:          %v\n", v.Shape)
	fmt.Fprintf(w, "  fragment space: %v (%d fragments)\n", v.Map.Space(), v.Map.Len())
	fmt.Fprintf(w, "  partitions:     %v (%d tasks)\n", v.Plan.Space, len(v.Graph.Tasks))
	for d, dim := range v.Plan.Dims {
		fmt.Fprintf(w, "    %-8s fragments %v chunks %v\n", dim, v.Map.Sizes()[d], v.Plan.Chunks[d])
	}
	if len(v.Plan.Uneven) > 0 {
		fmt.Fprintf(w, "  uneven chunking along %s\n", strings.Join(v.Plan.Uneven, ", "))
	}
	if !fragments {
		return
	}
	for _, f := range v.Map.Fragments() {
		if f.Constant() {
			fmt.Fprintf(w, "  %-8s %s constant %g\n", f.Position, f.GlobalExtent, *f.FillValue)
			continue
		}
		fmt.Fprintf(w, "  %-8s %s %s %s\n", f.Position, f.GlobalExtent, f.Address, strings.Join(cfa.OrderLocations(f.Location), " "))
	}
}
