package main

import (
	"fmt"
	"strings"

	cfa "github.com/qri-io/cfa-go"
	"github.com/qri-io/cfa-go/catalog"
	"github.com/spf13/cobra"
)

func init() {
	catalogInspectCmd.Flags().BoolVar(&inspectFragments, "fragments", false, "List every fragment and its locations")
	catalogCmd.AddCommand(catalogSaveCmd, catalogListCmd, catalogRmCmd, catalogInspectCmd)
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Keep decoded fragment maps in a SQLite catalog",
}

var catalogSaveCmd = &cobra.Command{
	Use:   "save <catalog.db> <file> [variable...]",
	Short: "Decode aggregation variables and save their fragment maps",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := openDataset(args[1])
		if err != nil {
			return err
		}
		defer ds.Close()

		c, err := catalog.Open(args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		names := args[2:]
		if len(names) == 0 {
			if names, err = ds.Variables(); err != nil {
				return err
			}
		}
		for _, name := range names {
			m, meta, err := ds.FragmentMap(name)
			if err != nil {
				return err
			}
			if err := c.Save(cmd.Context(), name, meta.Dtype, meta.Units, m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d fragments)\n", name, m.Len())
		}
		return nil
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list <catalog.db>",
	Short: "List cataloged variables",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := catalog.Open(args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		entries, err := c.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(cmd.OutOrStdout(), "%s(%s) %v %s %q %d fragments\n",
				e.Name, strings.Join(e.Dims, ", "), e.Shape, e.Dtype.Human(), e.Units, e.Fragments)
		}
		return nil
	},
}

var catalogRmCmd = &cobra.Command{
	Use:   "rm <catalog.db> <variable...>",
	Short: "Remove variables from a catalog",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := catalog.Open(args[0])
		if err != nil {
			return err
		}
		defer c.Close()
		for _, name := range args[1:] {
			if err := c.Delete(cmd.Context(), name); err != nil {
				return err
			}
		}
		return nil
	},
}

// catalogInspectCmd plans cataloged variables without touching the
// aggregation file they came from
var catalogInspectCmd = &cobra.Command{
	Use:   "inspect <catalog.db> [variable...]",
	Short: "Describe cataloged variables and how they partition",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := options()
		if err != nil {
			return err
		}
		c, err := catalog.Open(args[0])
		if err != nil {
			return err
		}
		ds, err := cfa.Open(c, newLocator(args[0]), opts)
		if err != nil {
			c.Close()
			return err
		}
		defer ds.Close()

		names := args[1:]
		if len(names) == 0 {
			names = c.Variables()
		}
		for _, name := range names {
			v, err := ds.Variable(name)
			if err != nil {
				return err
			}
			describe(cmd.OutOrStdout(), v, inspectFragments)
		}
		return nil
	},
}
