package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mgttt/ndtsdb/writer"
)

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Check an .ndts file's header and chunk CRCs",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runVerify(args[0])
		},
	}
}

func runVerify(path string) error {
	res, err := writer.VerifyPath(afero.NewOsFs(), path)
	if err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}

	if res.HeaderError != nil {
		fmt.Printf("%s: HEADER CORRUPT: %v\n", path, res.HeaderError)
		return fmt.Errorf("header corrupt")
	}

	fmt.Printf("%s: %d chunk(s), %d row(s)\n", path, res.ChunkCount, res.RowCount)
	if res.OK {
		fmt.Println("OK")
		return nil
	}

	for idx, cerr := range res.ChunkErrors {
		fmt.Printf("  chunk %d: %v\n", idx, cerr)
	}
	return fmt.Errorf("%d corrupt chunk(s)", len(res.ChunkErrors))
}
