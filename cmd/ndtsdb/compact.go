package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mgttt/ndtsdb/writer"
)

func compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact <file>",
		Short: "Rewrite an .ndts file, dropping tombstoned rows and merging chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runCompact(args[0])
		},
	}
}

func runCompact(path string) error {
	header, _, err := writer.ReadAllFromPath(afero.NewOsFs(), path)
	if err != nil {
		return fmt.Errorf("reading schema from %s: %w", path, err)
	}

	w, err := writer.Open(path, header.Schema, writer.WithLogger(logger()))
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer w.Close()

	before, after, err := w.Compact()
	if err != nil {
		return fmt.Errorf("compacting %s: %w", path, err)
	}

	fmt.Printf("%s: %d row(s) -> %d row(s)\n", path, before, after)
	return nil
}
