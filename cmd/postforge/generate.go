package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/postforge/internal/article"
	"github.com/TobiSchelling/postforge/internal/database"
	"github.com/TobiSchelling/postforge/internal/feed"
	"github.com/TobiSchelling/postforge/internal/generate"
)

var (
	genVideo     string
	genRubric    string
	genKeywords  []string
	genGuidance  string
	genReference string
)

func requestFromFlags(args []string) article.Request {
	return article.Request{
		Topic:        strings.Join(args, " "),
		VideoURL:     genVideo,
		RubricCode:   genRubric,
		Keywords:     genKeywords,
		Guidance:     genGuidance,
		ReferenceURL: genReference,
	}
}

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&genVideo, "video", "", "YouTube video URL or id to generate from")
	cmd.Flags().StringVar(&genRubric, "rubric", "", "Rubric code to file the post under")
	cmd.Flags().StringSliceVar(&genKeywords, "keyword", nil, "Keyword to work into the article (repeatable)")
	cmd.Flags().StringVar(&genGuidance, "guidance", "", "Extra editorial guidance")
	cmd.Flags().StringVar(&genReference, "reference", "", "Reference page URL")
}

// --- generate command ---

var generateCmd = &cobra.Command{
	Use:   "generate [topic]",
	Short: "Generate and publish one article synchronously",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.JobTimeout())
		defer cancel()

		out, err := buildServices(db).orchestrator.GenerateAndPublish(ctx, requestFromFlags(args))
		if err != nil {
			return err
		}
		verb := "Created"
		if out.Decision.Kind == generate.UpdateExisting {
			verb = "Updated"
		}
		fmt.Printf("%s post [%d] %s\n", verb, out.PostID, out.Document.Title)
		fmt.Printf("  %s\n", out.Document.SEO.Canonical)
		return nil
	},
}

func init() {
	addRequestFlags(generateCmd)
}

// --- queue command ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the generation queue",
}

var queueAddFile string

var queueAddCmd = &cobra.Command{
	Use:   "add [topic]",
	Short: "Queue a topic, a video, or a file of video URLs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		var reqs []article.Request
		if queueAddFile != "" {
			lines, err := readLines(queueAddFile)
			if err != nil {
				return err
			}
			planned, planErr := feed.PlanURLs(lines, genRubric)
			if planErr != nil {
				fmt.Fprintf(os.Stderr, "Skipped invalid entries:\n%v\n", planErr)
			}
			reqs = planned
		} else {
			req := requestFromFlags(args)
			if err := req.Clean(); err != nil {
				return err
			}
			reqs = []article.Request{req}
		}
		return enqueueAll(cmd.Context(), db, reqs)
	},
}

var planDaysBack int

var queuePlanFeedCmd = &cobra.Command{
	Use:   "plan-feed",
	Short: "Queue unpublished videos from the configured channel feeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Feeds) == 0 {
			return fmt.Errorf("no feeds configured")
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		planner := feed.NewPlanner(cfg.Feeds, db, log)
		entries, err := planner.Plan(cmd.Context(), time.Now(), planDaysBack)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No new videos.")
			return nil
		}
		if dryRun {
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.Channel, e.Published, e.VideoID, truncateCell(e.Title, 60)})
			}
			fmt.Println(renderTable([]string{"Channel", "Published", "Video", "Title"}, rows, nil))
			return nil
		}
		reqs := make([]article.Request, 0, len(entries))
		for _, e := range entries {
			reqs = append(reqs, e.Request)
		}
		return enqueueAll(cmd.Context(), db, reqs)
	},
}

var (
	listStatus string
	listLimit  int
)

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		jobs, err := db.ListJobs(cmd.Context(), database.JobStatus(listStatus), listLimit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs.")
			return nil
		}
		rows := make([][]string, 0, len(jobs))
		for _, j := range jobs {
			post := ""
			if j.ArticleID != nil {
				post = strconv.FormatInt(*j.ArticleID, 10)
			}
			rows = append(rows, []string{
				strconv.FormatInt(j.ID, 10),
				string(j.Status),
				truncateCell(j.Request.Label(), 50),
				post,
				j.CreatedAt.Local().Format("2006-01-02 15:04"),
				truncateCell(j.Error, 40),
			})
		}
		fmt.Println(renderTable(
			[]string{"ID", "Status", "Source", "Post", "Created", "Error"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
		))
		return nil
	},
}

func init() {
	addRequestFlags(queueAddCmd)
	queueAddCmd.Flags().StringVarP(&queueAddFile, "file", "f", "", "File with one video URL per line")
	queuePlanFeedCmd.Flags().IntVar(&planDaysBack, "days-back", 7, "Only plan videos published within this many days (0 for all)")
	queuePlanFeedCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show planned videos without queueing them")
	queueListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (pending, running, done, failed)")
	queueListCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum jobs to show")

	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queuePlanFeedCmd)
	queueCmd.AddCommand(queueListCmd)
}

func enqueueAll(ctx context.Context, db *database.DB, reqs []article.Request) error {
	for _, r := range reqs {
		id, err := db.EnqueueJob(ctx, r)
		if err != nil {
			return err
		}
		fmt.Printf("Queued job [%d]: %s\n", id, r.Label())
	}
	fmt.Printf("%d job(s) queued.\n", len(reqs))
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
