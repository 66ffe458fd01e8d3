package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ainexus/herald/config"
	"github.com/ainexus/herald/internal/archive"
)

func searchCMD() *cobra.Command {
	var cfgPath string
	var topK int
	var search = &cobra.Command{
		Use:   "search [query]",
		Short: "Search archived newsletters",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			arc, err := archive.New(cfg.Storage, cfg.Archive)
			if err != nil {
				return err
			}
			defer arc.Close()

			hits, err := arc.Search(strings.Join(args, " "), topK)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Println("no matches")
				return nil
			}
			for _, h := range hits {
				fmt.Printf("%2d. %s (score %.3f)\n    %s\n", h.Rank, h.Title, h.Score, h.Path)
			}
			return nil
		},
	}
	search.Flags().IntVar(&topK, "top-k", 10, "maximum hits")
	search.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config)")

	return search
}
