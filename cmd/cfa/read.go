package main

import (
	"fmt"
	"math"

	cfa "github.com/qri-io/cfa-go"
	"github.com/spf13/cobra"
)

var (
	readMean   bool
	meanAxes   []int
	skipNaN    bool
	printLimit int
)

func init() {
	readCmd.Flags().BoolVar(&readMean, "mean", false, "Reduce the variable to its mean instead of reading it")
	readCmd.Flags().IntSliceVar(&meanAxes, "axes", nil, "Axes to reduce with --mean, all of them by default")
	readCmd.Flags().BoolVar(&skipNaN, "skip-missing", true, "Leave missing values out of --mean")
	readCmd.Flags().IntVar(&printLimit, "limit", 10, "Number of leading values to print")
}

var readCmd = &cobra.Command{
	Use:   "read <file> <variable>",
	Short: "Read an aggregation variable, or its mean, through the partition graph",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := openDataset(args[0])
		if err != nil {
			return err
		}
		defer ds.Close()

		v, err := ds.Variable(args[1])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		ctx := cmd.Context()

		var a *cfa.Array
		if readMean {
			var axes []int
			if cmd.Flags().Changed("axes") {
				axes = meanAxes
			}
			pt, err := ds.Executor().Mean(ctx, v.Graph, axes, skipNaN)
			if err != nil {
				return err
			}
			a = pt.Mean()
			a.Units = v.Units
		} else if a, err = ds.Executor().Compute(ctx, v.Graph); err != nil {
			return err
		}

		lo, hi, missing := summarize(a)
		fmt.Fprintf(w, "%s shape %v units %q\n", v.Name, a.Shape, a.Units)
		fmt.Fprintf(w, "min %g max %g missing %d\n", lo, hi, missing)
		n := min(printLimit, a.Size())
		if n > 0 {
			fmt.Fprintf(w, "values %v", a.Values[:n])
			if n < a.Size() {
				fmt.Fprint(w, " ...")
			}
			fmt.Fprintln(w)
		}
		return nil
	},
}

// summarize returns the range of the values that aren't missing and the
// number that are
func summarize(a *cfa.Array) (lo, hi float64, missing int) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range a.Values {
		if math.IsNaN(v) {
			missing++
			continue
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if missing == a.Size() {
		return math.NaN(), math.NaN(), missing
	}
	return lo, hi, missing
}
