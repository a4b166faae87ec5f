package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mgttt/ndtsdb/writer"
)

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print an .ndts file's header, schema, and dictionary sizes",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runInspect(args[0])
		},
	}
}

func runInspect(path string) error {
	header, bufs, err := writer.ReadAllFromPath(afero.NewOsFs(), path)
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", path, err)
	}

	fmt.Printf("version:     %d\n", header.Version)
	fmt.Printf("flags:       %d\n", header.Flags)
	fmt.Printf("total rows:  %d\n", header.TotalRows)
	fmt.Printf("chunk count: %d\n", header.ChunkCount)

	rowCount := 0
	if len(bufs) > 0 {
		rowCount = bufs[0].Len()
	}
	fmt.Printf("live rows:   %d\n", rowCount)

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"column", "kind", "dict entries"})
	for _, f := range header.Schema.Fields {
		dictSize := 0
		if d, ok := header.Dicts[f.Name]; ok {
			dictSize = len(d)
		}
		tw.AppendRow(table.Row{f.Name, f.Kind.String(), dictSize})
	}
	fmt.Println(tw.Render())
	return nil
}
