package enhance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/postforge/internal/apperr"
	"github.com/TobiSchelling/postforge/internal/article"
	"github.com/TobiSchelling/postforge/internal/database"
	"github.com/TobiSchelling/postforge/internal/normalize"
	"github.com/TobiSchelling/postforge/internal/research"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testNormalizer(db *database.DB) *normalize.Normalizer {
	return normalize.New(db, db, normalize.Config{
		BaseURL:       "https://example.com",
		ArticlePath:   "artykuly",
		DefaultRubric: "Zdrowie i joga",
	})
}

func seedPost(t *testing.T, db *database.DB, title string, citations ...article.Citation) *database.Post {
	t.Helper()
	ctx := context.Background()
	doc, err := testNormalizer(db).Normalize(ctx, &article.Document{
		Title:     title,
		Lead:      "Lead for " + title,
		Sections:  []article.Section{{Title: "Basics", Body: "Breathe slowly."}},
		Citations: citations,
	}, normalize.Options{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	id, err := db.InsertPost(ctx, database.PostFromDocument(doc))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	p, err := db.FindPostByID(ctx, id)
	if err != nil || p == nil {
		t.Fatalf("reload: %v", err)
	}
	return p
}

type stubResearch struct {
	res *research.Result
	err error
}

func (s *stubResearch) Run(_ context.Context, _ *article.Document) (*research.Result, error) {
	return s.res, s.err
}

type stubWriter struct {
	mu     sync.Mutex
	add    *Additions
	err    error
	inputs []WriterInput
}

func (w *stubWriter) Write(_ context.Context, in WriterInput) (*Additions, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inputs = append(w.inputs, in)
	return w.add, w.err
}

func newPipeline(db *database.DB, r Researcher, w Writer) *Pipeline {
	return NewPipeline(PipelineDeps{Store: db, Research: r, Writer: w, Normalizer: testNormalizer(db)})
}

func score(f float64) *float64 { return &f }

func TestMergeCitations(t *testing.T) {
	top := article.Citation{URL: "https://who.int/new", PublishedAt: "2024-06-01", Score: score(0.9)}
	second := article.Citation{URL: "https://nih.gov/b"}
	tests := []struct {
		name       string
		existing   []article.Citation
		researched []article.Citation
		want       MergeKind
		wantFirst  string
		wantSupp   int
	}{
		{"nothing researched", []article.Citation{{URL: "https://a.example"}}, nil, Keep, "https://a.example", 0},
		{"no existing", nil, []article.Citation{top, second}, Adopt, top.URL, 0},
		{"single older", []article.Citation{{URL: "https://old.example", PublishedAt: "2020-01-01"}}, []article.Citation{top, second}, ReplaceOne, top.URL, 1},
		{"single newer", []article.Citation{{URL: "https://fresh.example", PublishedAt: "2025-01-01"}}, []article.Citation{top}, Keep, "https://fresh.example", 1},
		{"single unscored", []article.Citation{{URL: "https://plain.example"}}, []article.Citation{top}, ReplaceOne, top.URL, 0},
		{"single higher score", []article.Citation{{URL: "https://good.example", Score: score(1)}}, []article.Citation{{URL: "https://x.example", Score: score(0.5)}}, Keep, "https://good.example", 1},
		{"several existing", []article.Citation{{URL: "https://a.example"}, {URL: "https://b.example"}}, []article.Citation{top}, Keep, "https://a.example", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeCitations(tt.existing, tt.researched)
			if got.Kind != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got.Kind)
			}
			if got.Citations[0].URL != tt.wantFirst {
				t.Errorf("expected first citation %s, got %s", tt.wantFirst, got.Citations[0].URL)
			}
			if len(got.Supplementary) != tt.wantSupp {
				t.Errorf("expected %d supplementary, got %d", tt.wantSupp, len(got.Supplementary))
			}
			if got.Kind == Keep && len(got.Citations) != len(tt.existing) {
				t.Error("keep must not alter the existing list")
			}
		})
	}
}

func TestParseAdditions(t *testing.T) {
	add, err := ParseAdditions("```json\n" + `{"added_sections":[{"title":"New","body":"Fresh facts."},{"title":"","body":"x"}],
		"added_faq":[{"question":"Why?","answer":"Because."},{"question":"Empty?","answer":" "}]}` + "\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(add.Sections) != 1 || len(add.FAQ) != 1 {
		t.Errorf("expected incomplete entries dropped, got %+v", add)
	}

	add, err = ParseAdditions(`{"added_section":{"title":"One","body":"Only."},"added_faq":{"question":"Q?","answer":"A"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(add.Sections) != 1 || add.Sections[0].Title != "One" || len(add.FAQ) != 1 {
		t.Errorf("expected singular forms accepted, got %+v", add)
	}

	add, err = ParseAdditions(`{"added_sections":[],"added_faq":null}`)
	if err != nil || !add.IsEmpty() {
		t.Errorf("expected empty additions, got %+v, %v", add, err)
	}

	for _, bad := range []string{"", "no json here", `{"added_sections":"oops"}`} {
		if _, err := ParseAdditions(bad); !errors.Is(err, apperr.ErrWriter) {
			t.Errorf("ParseAdditions(%q): expected ErrWriter, got %v", bad, err)
		}
	}
}

func TestEnhancePersistsDespiteResearchTimeout(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	post := seedPost(t, db, "Morning yoga", article.Citation{URL: "https://a.example"}, article.Citation{URL: "https://b.example"})

	w := &stubWriter{add: &Additions{Sections: []article.Section{{Title: "Latest research", Body: "New findings."}}}}
	p := newPipeline(db, &stubResearch{err: apperr.Wrap(apperr.ErrTimeout, "research exceeded 3m")}, w)

	updated, err := p.Enhance(ctx, post)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated == nil {
		t.Fatal("expected an update")
	}
	if w.inputs[0].Summary != "" || len(w.inputs[0].Supplementary) != 0 {
		t.Errorf("expected empty research context, got %+v", w.inputs[0])
	}

	stored, _ := db.FindPostByID(ctx, post.ID)
	if stored.Slug != post.Slug {
		t.Errorf("slug changed from %s to %s", post.Slug, stored.Slug)
	}
	if len(stored.Payload.Sections) != 2 || stored.Payload.Sections[1].Title != "Latest research" {
		t.Errorf("expected appended section, got %+v", stored.Payload.Sections)
	}
	if len(stored.Citations) != 2 {
		t.Errorf("expected existing citations kept, got %+v", stored.Citations)
	}
}

func TestEnhanceWriterFailureSkipsUpdate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	post := seedPost(t, db, "Evening yoga")

	p := newPipeline(db, nil, &stubWriter{err: errors.New("connection reset")})
	updated, err := p.Enhance(ctx, post)
	if !errors.Is(err, apperr.ErrWriter) {
		t.Fatalf("expected ErrWriter, got %v", err)
	}
	if updated != nil {
		t.Error("expected no post on failure")
	}
	stored, _ := db.FindPostByID(ctx, post.ID)
	if !stored.UpdatedAt.Equal(post.UpdatedAt) || len(stored.Payload.Sections) != 1 {
		t.Error("expected post untouched after writer failure")
	}
}

func TestEnhanceNothingToAdd(t *testing.T) {
	db := openTestDB(t)
	post := seedPost(t, db, "Quiet yoga", article.Citation{URL: "https://a.example"}, article.Citation{URL: "https://b.example"})
	p := newPipeline(db, &stubResearch{res: &research.Result{}}, &stubWriter{add: &Additions{}})

	updated, err := p.Enhance(context.Background(), post)
	if err != nil || updated != nil {
		t.Errorf("expected (nil, nil), got %+v, %v", updated, err)
	}
}

func TestEnhanceMergesFAQCaseInsensitively(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	post := seedPost(t, db, "Yoga questions")

	w := &stubWriter{add: &Additions{FAQ: []article.FAQ{{Question: "A?", Answer: "1"}, {Question: "a?", Answer: "2"}}}}
	if _, err := newPipeline(db, nil, w).Enhance(ctx, post); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := db.FindPostByID(ctx, post.ID)
	if len(stored.FAQ) != 1 || stored.FAQ[0].Answer != "1" {
		t.Errorf("expected single first FAQ entry, got %+v", stored.FAQ)
	}
}

func TestEnhanceAdoptsResearchedCitations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	post := seedPost(t, db, "Uncited yoga")

	r := &stubResearch{res: &research.Result{
		Summary: "Yoga helps sleep.",
		Sources: []research.Source{{URL: "https://who.int/sleep", Title: "WHO", PublishedAt: "2024-04-01"}},
	}}
	w := &stubWriter{add: &Additions{}}
	updated, err := newPipeline(db, r, w).Enhance(ctx, post)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated == nil || len(updated.Citations) != 1 || updated.Citations[0].URL != "https://who.int/sleep" {
		t.Errorf("expected adopted citation, got %+v", updated)
	}
	if w.inputs[0].Summary != "Yoga helps sleep." {
		t.Errorf("expected research summary passed to writer, got %q", w.inputs[0].Summary)
	}
}

func TestEnhanceRejectsPostWithoutPayload(t *testing.T) {
	p := NewPipeline(PipelineDeps{Writer: &stubWriter{}})
	if _, err := p.Enhance(context.Background(), &database.Post{ID: 1}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestSelectorPagesInOrder(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		stamp := base.Add(time.Duration(i) * time.Hour)
		db.SetClock(func() time.Time { return stamp })
		seedPost(t, db, fmt.Sprintf("Post %d", i))
	}

	s := NewSelector(db)
	s.pageSize = 2
	now := base.Add(30 * 24 * time.Hour)

	var slugs []string
	for p, err := range s.SelectCandidates(context.Background(), now, DefaultStaleAfter) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		slugs = append(slugs, p.Slug)
	}
	want := []string{"post-0", "post-1", "post-2", "post-3", "post-4"}
	if fmt.Sprint(slugs) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, slugs)
	}

	n := 0
	for range s.SelectCandidates(context.Background(), now, DefaultStaleAfter) {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Errorf("expected early break honoured, got %d", n)
	}

	recent := 0
	for range s.SelectCandidates(context.Background(), base.Add(2*time.Hour), time.Hour) {
		recent++
	}
	if recent != 2 {
		t.Errorf("expected 2 posts older than cutoff, got %d", recent)
	}
}

func TestEnhancedPostIsNotReselected(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return created })
	seedPost(t, db, "Stale yoga")

	enhancedAt := created.Add(16 * 24 * time.Hour)
	db.SetClock(func() time.Time { return enhancedAt })

	w := &stubWriter{add: &Additions{Sections: []article.Section{{Title: "Update", Body: "Fresh."}}}}
	batch := NewBatch(NewSelector(db), db, newPipeline(db, nil, w), nil)
	res, err := batch.Run(ctx, enhancedAt, BatchOptions{Workers: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Selected != 1 || res.Enhanced != 1 {
		t.Fatalf("expected one enhanced post, got %+v", res)
	}

	res, err = batch.Run(ctx, enhancedAt.Add(time.Second), BatchOptions{Workers: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Selected != 0 {
		t.Errorf("expected freshly enhanced post not reselected, got %+v", res)
	}
	if len(w.inputs) != 1 {
		t.Errorf("expected one writer call, got %d", len(w.inputs))
	}
}

type scriptedEnhancer struct {
	mu      sync.Mutex
	active  map[int64]bool
	overlap bool
}

func (e *scriptedEnhancer) Enhance(_ context.Context, post *database.Post) (*database.Post, error) {
	e.mu.Lock()
	if e.active[post.ID] {
		e.overlap = true
	}
	e.active[post.ID] = true
	e.mu.Unlock()
	time.Sleep(time.Millisecond)
	e.mu.Lock()
	delete(e.active, post.ID)
	e.mu.Unlock()

	switch post.Slug {
	case "broken":
		return nil, apperr.Wrap(apperr.ErrWriter, "malformed")
	case "unchanged":
		return nil, nil
	}
	return post, nil
}

func TestBatchContinuesPastFailures(t *testing.T) {
	db := openTestDB(t)
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return old })
	for _, title := range []string{"Broken", "Unchanged", "Fine"} {
		seedPost(t, db, title)
	}

	e := &scriptedEnhancer{active: map[int64]bool{}}
	res, err := NewBatch(NewSelector(db), db, e, nil).Run(context.Background(), old.Add(30*24*time.Hour), BatchOptions{Workers: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Selected != 3 || res.Enhanced != 1 || res.Unchanged != 1 || res.Failed != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestBatchIsolatesCorruptPost(t *testing.T) {
	db := openTestDB(t)
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return old })
	bad := seedPost(t, db, "Corrupt")
	seedPost(t, db, "Healthy")

	raw, err := sql.Open("sqlite", db.Path())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := raw.Exec(`UPDATE posts SET payload = 'not json' WHERE id = ?`, bad.ID); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	raw.Close()

	e := &scriptedEnhancer{active: map[int64]bool{}}
	res, err := NewBatch(NewSelector(db), db, e, nil).Run(context.Background(), old.Add(30*24*time.Hour), BatchOptions{})
	if err != nil {
		t.Fatalf("expected batch to continue, got %v", err)
	}
	if res.Selected != 2 || res.Failed != 1 || res.Enhanced != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestBatchLimitAndDryRun(t *testing.T) {
	db := openTestDB(t)
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return old })
	for i := range 4 {
		seedPost(t, db, fmt.Sprintf("Dry %d", i))
	}

	e := &scriptedEnhancer{active: map[int64]bool{}}
	b := NewBatch(NewSelector(db), db, e, nil)
	now := old.Add(30 * 24 * time.Hour)

	res, err := b.Run(context.Background(), now, BatchOptions{Limit: 2, DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Selected != 2 || res.Enhanced != 0 || len(res.Slugs) != 2 || res.Slugs[0] != "dry-0" {
		t.Errorf("unexpected dry run result %+v", res)
	}
}

// appendingWriter adds one numbered section per call.
type appendingWriter struct {
	mu    sync.Mutex
	calls int
}

func (w *appendingWriter) Write(_ context.Context, _ WriterInput) (*Additions, error) {
	w.mu.Lock()
	w.calls++
	n := w.calls
	w.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	return &Additions{Sections: []article.Section{{Title: fmt.Sprintf("Added %d", n), Body: "Fresh."}}}, nil
}

func TestConcurrentRunsKeepEarlierEnhancement(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return old })
	p := seedPost(t, db, "Overlap")

	now := old.Add(30 * 24 * time.Hour)
	db.SetClock(func() time.Time { return now })
	w := &appendingWriter{}
	b := NewBatch(NewSelector(db), db, newPipeline(db, nil, w), nil)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Run(ctx, now, BatchOptions{}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if w.calls != 1 {
		t.Errorf("expected one writer call, got %d", w.calls)
	}
	got, err := db.FindPostByID(ctx, p.ID)
	if err != nil || got == nil {
		t.Fatalf("reload: %v", err)
	}
	var titles []string
	for _, s := range got.Payload.Sections {
		titles = append(titles, s.Title)
	}
	if fmt.Sprint(titles) != "[Basics Added 1]" {
		t.Errorf("expected the first enhancement kept, got %v", titles)
	}
}

func TestBatchSkipsPostRefreshedSinceSelection(t *testing.T) {
	db := openTestDB(t)
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return old })
	p := seedPost(t, db, "Refreshed")

	now := old.Add(30 * 24 * time.Hour)
	b := NewBatch(NewSelector(db), db, &scriptedEnhancer{active: map[int64]bool{}}, nil)
	db.SetClock(func() time.Time { return now })
	if err := db.UpdatePost(context.Background(), p); err != nil {
		t.Fatalf("update: %v", err)
	}

	updated, err := b.enhanceOne(context.Background(), p.ID, staleCutoff(now, DefaultStaleAfter))
	if err != nil || updated != nil {
		t.Errorf("expected refreshed post skipped, got %+v (%v)", updated, err)
	}
	updated, err = b.enhanceOne(context.Background(), p.ID+100, staleCutoff(now, DefaultStaleAfter))
	if err != nil || updated != nil {
		t.Errorf("expected missing post skipped, got %+v (%v)", updated, err)
	}
}

func TestBatchSerializesSamePost(t *testing.T) {
	db := openTestDB(t)
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return old })
	seedPost(t, db, "Shared")

	e := &scriptedEnhancer{active: map[int64]bool{}}
	b := NewBatch(NewSelector(db), db, e, nil)
	now := old.Add(30 * 24 * time.Hour)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Run(context.Background(), now, BatchOptions{})
		}()
	}
	wg.Wait()
	if e.overlap {
		t.Error("expected enhancements of one post to never overlap")
	}
}
