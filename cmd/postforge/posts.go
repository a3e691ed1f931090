package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/postforge/internal/database"
)

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "Inspect published posts",
}

var (
	postsPage    int
	postsPerPage int
	postsSearch  string
	postsSection string
)

var postsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List posts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		page, err := db.ListPosts(cmd.Context(), database.PostFilter{
			Page:    postsPage,
			PerPage: postsPerPage,
			Search:  postsSearch,
			Section: postsSection,
		})
		if err != nil {
			return err
		}
		if len(page.Items) == 0 {
			fmt.Println("No posts.")
			return nil
		}
		rows := make([][]string, 0, len(page.Items))
		for _, p := range page.Items {
			rows = append(rows, []string{
				strconv.FormatInt(p.ID, 10),
				truncateCell(p.Slug, 40),
				truncateCell(p.Title, 50),
				p.Section,
				p.UpdatedAt.Local().Format("2006-01-02"),
			})
		}
		fmt.Println(renderTable([]string{"ID", "Slug", "Title", "Section", "Updated"}, rows, []columnAlignment{alignRight}))
		fmt.Printf("Page %d of %d (%d posts)\n", page.Page, page.TotalPages, page.TotalItems)
		return nil
	},
}

var rubricsCmd = &cobra.Command{
	Use:   "rubrics",
	Short: "Manage rubrics",
}

var rubricsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rubrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		rubrics, err := db.ListRubrics(cmd.Context())
		if err != nil {
			return err
		}
		if len(rubrics) == 0 {
			fmt.Println("No rubrics. Add one with: postforge rubrics add <code> <name>")
			return nil
		}
		rows := make([][]string, 0, len(rubrics))
		for _, r := range rubrics {
			state := "active"
			if !r.IsActive {
				state = "inactive"
			}
			rows = append(rows, []string{r.Code, r.Name, state})
		}
		fmt.Println(renderTable([]string{"Code", "Name", "State"}, rows, nil))
		return nil
	},
}

var rubricsAddCmd = &cobra.Command{
	Use:   "add [code] [name]",
	Short: "Add or rename a rubric",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.UpsertRubric(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Rubric %s: %s\n", args[0], args[1])
		return nil
	},
}

var rubricsDisableCmd = &cobra.Command{
	Use:   "disable [code]",
	Short: "Deactivate a rubric",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.SetRubricActive(cmd.Context(), args[0], false); err != nil {
			return err
		}
		fmt.Printf("Rubric %s disabled\n", args[0])
		return nil
	},
}

func init() {
	postsListCmd.Flags().IntVar(&postsPage, "page", 1, "Page number")
	postsListCmd.Flags().IntVar(&postsPerPage, "per-page", 20, "Posts per page")
	postsListCmd.Flags().StringVarP(&postsSearch, "search", "q", "", "Search title and lead")
	postsListCmd.Flags().StringVar(&postsSection, "section", "", "Filter by section")
	postsCmd.AddCommand(postsListCmd)

	rubricsCmd.AddCommand(rubricsListCmd)
	rubricsCmd.AddCommand(rubricsAddCmd)
	rubricsCmd.AddCommand(rubricsDisableCmd)
}
