package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	dryRun         bool
	enhanceLimit   int
	enhanceWorkers int
)

var enhanceCmd = &cobra.Command{
	Use:   "enhance",
	Short: "Enrich stale posts with fresh research, sections and FAQ",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		svc := buildServices(db)
		res, err := svc.newBatch(db).Run(cmd.Context(), time.Now(), svc.batchOptions(enhanceLimit, enhanceWorkers, dryRun))
		if err != nil {
			return err
		}

		if dryRun {
			fmt.Printf("%d stale post(s) would be enhanced:\n", res.Selected)
			for _, slug := range res.Slugs {
				fmt.Printf("  %s\n", slug)
			}
			return nil
		}
		fmt.Println("Enhancement complete:")
		fmt.Printf("  Selected: %d\n", res.Selected)
		fmt.Printf("  Enhanced: %d\n", res.Enhanced)
		fmt.Printf("  Nothing to add: %d\n", res.Unchanged)
		fmt.Printf("  Failed: %d\n", res.Failed)
		return nil
	},
}

func init() {
	enhanceCmd.Flags().BoolVar(&dryRun, "dry-run", false, "List candidates without enhancing them")
	enhanceCmd.Flags().IntVarP(&enhanceLimit, "limit", "n", 0, "Maximum posts to enhance (overrides config)")
	enhanceCmd.Flags().IntVar(&enhanceWorkers, "workers", 0, "Parallel enhancements (overrides config)")
}
