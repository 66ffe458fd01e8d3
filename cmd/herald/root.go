package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{
		Use:   "herald",
		Short: "AI news digest generator",
	}

	root.AddCommand(serveCMD(), generateCMD(), migrateCMD(), searchCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
