package main

import (
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	cfa "github.com/qri-io/cfa-go"
	"github.com/qri-io/cfa-go/netcdf"
	"github.com/spf13/cobra"

	// remote fragment locations open as buckets
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

var (
	verbose    bool
	configPath string
	chunkFlags map[string]string
	jsonRoot   string
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log chunking and location warnings to stderr")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to an HCL options file")
	rootCmd.PersistentFlags().StringToStringVar(&chunkFlags, "chunks", nil, "Chunk requests, eg. time=4,lat=optimised")
	rootCmd.PersistentFlags().StringVar(&jsonRoot, "root", "", "JSONPath selecting the description in a JSON file")

	rootCmd.AddCommand(inspectCmd, readCmd, catalogCmd)
}

var rootCmd = &cobra.Command{
	Use:          "cfa",
	Short:        "Decode, plan and read CF aggregation variables",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			cfa.SetLogger(log.New(cmd.ErrOrStderr(), "cfa: ", log.LstdFlags))
		} else {
			cfa.SetLogger(log.New(io.Discard, "", 0))
		}
	},
}

// options loads the config file when given, then applies --chunks on top
func options() (cfa.Options, error) {
	opts := cfa.DefaultOptions()
	if configPath != "" {
		var err error
		if opts, err = cfa.LoadOptions(configPath); err != nil {
			return opts, fmt.Errorf("loading config: %w", err)
		}
	}
	if len(chunkFlags) > 0 {
		if opts.Chunks == nil {
			opts.Chunks = map[string]string{}
		}
		for dim, c := range chunkFlags {
			opts.Chunks[dim] = c
		}
	}
	return opts, nil
}

// openMetadata reads a dataset description: JSON files by extension,
// anything else as CFA-netCDF
func openMetadata(path string) (cfa.MetadataSource, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return cfa.LoadJSONSource(path, jsonRoot)
	}
	return netcdf.OpenAggregation(path)
}

// newLocator resolves relative fragment locations against the directory of
// the aggregation file
func newLocator(path string) *cfa.Locator {
	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		base = filepath.Dir(path)
	}
	l := cfa.NewLocator(base)
	netcdf.Register(l)
	return l
}

// openDataset opens the aggregation file at path with the command line
// options
func openDataset(path string) (*cfa.Dataset, error) {
	opts, err := options()
	if err != nil {
		return nil, err
	}
	src, err := openMetadata(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	ds, err := cfa.Open(src, newLocator(path), opts)
	if err != nil {
		src.Close()
		return nil, err
	}
	return ds, nil
}
