package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mgttt/ndtsdb/exec"
	"github.com/mgttt/ndtsdb/sql/parser"
	"github.com/mgttt/ndtsdb/table"
)

func queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <db-dir> <sql>",
		Short: "Run a SQL statement against every .ndts file in a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runQuery(args[0], args[1])
		},
	}
}

func runQuery(dbDir, sqlText string) error {
	cat, err := loadCatalog(dbDir)
	if err != nil {
		return err
	}

	stmt, err := parser.ParseStatement(sqlText)
	if err != nil {
		return fmt.Errorf("parsing query: %w", err)
	}

	res, err := exec.NewEngine().Execute(context.Background(), cat, stmt)
	if err != nil {
		return fmt.Errorf("executing query: %w", err)
	}

	printResult(res)
	return nil
}

// loadCatalog binds one table per top-level .ndts file in dir, using
// the file's base name (without extension) as the table name a SQL
// FROM clause can reference.
func loadCatalog(dir string) (*exec.Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	cat := exec.NewCatalog()
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".ndts") {
			continue
		}
		name := strings.TrimSuffix(ent.Name(), ".ndts")
		tbl, err := table.LoadFromFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", ent.Name(), err)
		}
		cat.Register(name, tbl)
	}
	return cat, nil
}

func printResult(res *exec.Result) {
	if len(res.Columns) == 0 {
		fmt.Printf("OK (%d row(s) affected)\n", res.RowCount)
		return
	}

	tw := prettytable.NewWriter()
	header := make(prettytable.Row, len(res.Columns))
	for i, c := range res.Columns {
		header[i] = c
	}
	tw.AppendHeader(header)

	for _, row := range res.Rows {
		out := make(prettytable.Row, len(res.Columns))
		for i, c := range res.Columns {
			out[i] = row[c]
		}
		tw.AppendRow(out)
	}
	fmt.Println(tw.Render())
	fmt.Printf("(%d row(s))\n", len(res.Rows))
}
