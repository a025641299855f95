package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"
)

type fakeDataStore struct {
	study    StudyInfo
	blocks   []BlockInfo
	sessions []SessionInfo
}

func (f *fakeDataStore) GetStudyInfo(ctx context.Context, studyID string) (StudyInfo, error) {
	return f.study, nil
}

func (f *fakeDataStore) ListBlockInfo(ctx context.Context, studyID string) ([]BlockInfo, error) {
	return f.blocks, nil
}

func (f *fakeDataStore) ListSessionInfo(ctx context.Context, studyID string) ([]SessionInfo, error) {
	return f.sessions, nil
}

func testStore() *fakeDataStore {
	started := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ended := started.Add(12 * time.Minute)
	return &fakeDataStore{
		study: StudyInfo{ID: "study-1", Title: "Checkout Usability", Status: "active"},
		blocks: []BlockInfo{
			{ID: "blk-1", Type: "open_question", Title: "First impression"},
			{ID: "blk-2", Type: "rating_scale", Title: "Ease of use"},
			{ID: "blk-3", Type: "multiple_choice", Title: "Preferred layout"},
		},
		sessions: []SessionInfo{
			{
				ID:            "ses-1",
				ParticipantID: "usr-1",
				Status:        "completed",
				CurrentStep:   3,
				Responses: map[string]any{
					"blk-1": "felt cluttered",
					"blk-2": float64(4),
					"blk-3": []any{"compact", "dark"},
				},
				Feedback:  "fun study",
				StartedAt: started,
				EndedAt:   &ended,
			},
			{
				ID:            "ses-2",
				ParticipantID: "usr-2",
				Status:        "in_progress",
				CurrentStep:   1,
				Responses:     map[string]any{"blk-1": "looks fine"},
				StartedAt:     started.Add(time.Hour),
			},
		},
	}
}

func parseCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	return records
}

func TestExportResponsesCSV(t *testing.T) {
	svc := NewService(testStore())

	res, err := svc.Export(context.Background(), Request{
		StudyID: "study-1",
		Format:  FormatCSV,
		Layout:  LayoutResponses,
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.MimeType != "text/csv" {
		t.Errorf("mime = %q, want text/csv", res.MimeType)
	}
	if !strings.HasSuffix(res.Filename, "-responses.csv") {
		t.Errorf("filename = %q", res.Filename)
	}

	records := parseCSV(t, res.Data)
	// Header plus one row per answered block: 3 for ses-1, 1 for ses-2.
	if len(records) != 5 {
		t.Fatalf("rows = %d, want 5", len(records))
	}
	if records[0][0] != "session_id" || records[0][8] != "response" {
		t.Errorf("unexpected header: %v", records[0])
	}

	// Rating scale value 4 must round-trip as the bare number.
	var found bool
	for _, rec := range records[1:] {
		if rec[5] == "blk-2" {
			found = true
			if rec[8] != "4" {
				t.Errorf("rating cell = %q, want 4", rec[8])
			}
		}
	}
	if !found {
		t.Error("no row for blk-2")
	}
}

func TestExportSessionsCSV(t *testing.T) {
	svc := NewService(testStore())

	res, err := svc.Export(context.Background(), Request{
		StudyID: "study-1",
		Format:  FormatCSV,
		Layout:  LayoutSessions,
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	records := parseCSV(t, res.Data)
	if len(records) != 3 {
		t.Fatalf("rows = %d, want header + 2 sessions", len(records))
	}

	header := records[0]
	// Block columns follow study order after the fixed session columns.
	if len(header) != 7+3 {
		t.Fatalf("header columns = %d, want 10", len(header))
	}
	if !strings.Contains(header[7], "blk-1") || !strings.Contains(header[9], "blk-3") {
		t.Errorf("block columns out of order: %v", header[7:])
	}

	row := records[1]
	if row[0] != "ses-1" || row[2] != "completed" {
		t.Errorf("first session row: %v", row)
	}
	// Multi-select answers serialize as JSON in one cell.
	if row[9] != `["compact","dark"]` {
		t.Errorf("multi-select cell = %q", row[9])
	}

	// Unanswered blocks are empty cells, not omitted columns.
	row2 := records[2]
	if row2[8] != "" || row2[9] != "" {
		t.Errorf("expected empty cells for unanswered blocks: %v", row2[7:])
	}
}

func TestExportDefaultsToResponsesLayout(t *testing.T) {
	svc := NewService(testStore())

	res, err := svc.Export(context.Background(), Request{StudyID: "study-1", Format: FormatCSV})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.HasSuffix(res.Filename, "-responses.csv") {
		t.Errorf("filename = %q, want responses layout default", res.Filename)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := NewService(testStore())

	if _, err := svc.Export(context.Background(), Request{StudyID: "study-1", Format: "docx"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Checkout Usability":   "Checkout-Usability",
		"émoji 🎉 test":         "moji--test",
		"":                     "study",
		strings.Repeat("a", 60): strings.Repeat("a", 50),
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
