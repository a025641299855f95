package studyrepo

import (
	"encoding/json"
	"sync"
	"testing"
)

func testDesign(title string, blockTypes ...string) Design {
	blocks := make([]BlockDesign, 0, len(blockTypes))
	for i, bt := range blockTypes {
		blocks = append(blocks, BlockDesign{
			ID:       bt + "-" + string(rune('a'+i)),
			Type:     bt,
			Title:    bt + " block",
			Settings: json.RawMessage(`{"required":true}`),
		})
	}
	return Design{Title: title, Description: "desc", Status: "draft", Blocks: blocks}
}

func TestStudyRepoLifecycle(t *testing.T) {
	svc := New(t.TempDir())

	initial := testDesign("Usability test", "welcome", "open_question")
	if err := svc.EnsureStudyRepo("study-1", initial, "Rana"); err != nil {
		t.Fatalf("EnsureStudyRepo: %v", err)
	}

	// Second call is a no-op.
	if err := svc.EnsureStudyRepo("study-1", testDesign("Other"), "Rana"); err != nil {
		t.Fatalf("EnsureStudyRepo twice: %v", err)
	}

	design, head, err := svc.GetHeadDesign("study-1")
	if err != nil {
		t.Fatalf("GetHeadDesign: %v", err)
	}
	if design.Title != "Usability test" {
		t.Errorf("title = %q, want the initial title", design.Title)
	}
	if len(design.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(design.Blocks))
	}
	if head.Author != "Rana" {
		t.Errorf("author = %q, want Rana", head.Author)
	}

	updated := testDesign("Usability test v2", "welcome", "open_question", "rating_scale")
	commit, err := svc.CommitDesign("study-1", updated, "Rana", "Add rating scale")
	if err != nil {
		t.Fatalf("CommitDesign: %v", err)
	}
	if commit.Hash == "" || commit.Hash == head.Hash {
		t.Errorf("expected a new commit hash, got %q (head %q)", commit.Hash, head.Hash)
	}

	history, err := svc.History("study-1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Message != "Add rating scale" {
		t.Errorf("newest message = %q", history[0].Message)
	}

	// The abbreviated hash from history resolves back to the old snapshot.
	old, err := svc.GetDesignByHash("study-1", history[1].Hash)
	if err != nil {
		t.Fatalf("GetDesignByHash: %v", err)
	}
	if len(old.Blocks) != 2 {
		t.Errorf("old snapshot blocks = %d, want 2", len(old.Blocks))
	}
}

func TestDesignRoundTripPreservesSettings(t *testing.T) {
	svc := New(t.TempDir())

	design := Design{
		Title:  "Survey",
		Status: "draft",
		Blocks: []BlockDesign{{
			ID:       "blk-1",
			Type:     "multiple_choice",
			Title:    "Pick one",
			Settings: json.RawMessage(`{"options":["a","b","c"],"randomize":false}`),
		}},
	}
	if err := svc.EnsureStudyRepo("study-rt", design, "Sam"); err != nil {
		t.Fatalf("EnsureStudyRepo: %v", err)
	}

	got, _, err := svc.GetHeadDesign("study-rt")
	if err != nil {
		t.Fatalf("GetHeadDesign: %v", err)
	}

	var settings struct {
		Options   []string `json:"options"`
		Randomize bool     `json:"randomize"`
	}
	if err := json.Unmarshal(got.Blocks[0].Settings, &settings); err != nil {
		t.Fatalf("unmarshal settings: %v", err)
	}
	if len(settings.Options) != 3 {
		t.Errorf("options = %v, want 3 entries", settings.Options)
	}
}

func TestConcurrentCommitsSameStudy(t *testing.T) {
	svc := New(t.TempDir())

	if err := svc.EnsureStudyRepo("study-c", testDesign("Concurrent"), "Init"); err != nil {
		t.Fatalf("EnsureStudyRepo: %v", err)
	}

	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			d := testDesign("Concurrent", "welcome")
			d.Description = string(rune('a' + n))
			if _, err := svc.CommitDesign("study-c", d, "Worker", "update"); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent commit: %v", err)
	}

	history, err := svc.History("study-c", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != workers+1 {
		t.Errorf("history length = %d, want %d", len(history), workers+1)
	}
}

func TestHasChanges(t *testing.T) {
	a := testDesign("Same", "welcome")
	b := testDesign("Same", "welcome")
	if HasChanges(a, b) {
		t.Error("identical designs reported as changed")
	}
	b.Blocks[0].Title = "edited"
	if !HasChanges(a, b) {
		t.Error("edited design reported as unchanged")
	}
}
