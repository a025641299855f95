package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// renderResponsesCSV emits the long format: one row per answered block.
func renderResponsesCSV(study StudyInfo, blocks []BlockInfo, sessions []SessionInfo) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"session_id", "participant_id", "status", "started_at", "ended_at", "block_id", "block_type", "block_title", "response"})

	blockMeta := make(map[string]BlockInfo, len(blocks))
	for _, b := range blocks {
		blockMeta[b.ID] = b
	}

	for _, ses := range sessions {
		for _, b := range blocks {
			value, ok := ses.Responses[b.ID]
			if !ok {
				continue
			}
			rec := []string{
				ses.ID,
				ses.ParticipantID,
				ses.Status,
				formatTime(ses.StartedAt),
				formatTimePtr(ses.EndedAt),
				b.ID,
				blockMeta[b.ID].Type,
				blockMeta[b.ID].Title,
				cellValue(value),
			}
			if err := w.Write(rec); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// renderSessionsCSV emits the wide format: one row per session, one column
// per block in study order.
func renderSessionsCSV(study StudyInfo, blocks []BlockInfo, sessions []SessionInfo) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)

	header := []string{"session_id", "participant_id", "status", "current_step", "started_at", "ended_at", "feedback"}
	for _, b := range blocks {
		header = append(header, blockColumn(b))
	}
	_ = w.Write(header)

	for _, ses := range sessions {
		row := []string{
			ses.ID,
			ses.ParticipantID,
			ses.Status,
			fmt.Sprintf("%d", ses.CurrentStep),
			formatTime(ses.StartedAt),
			formatTimePtr(ses.EndedAt),
			ses.Feedback,
		}
		for _, b := range blocks {
			row = append(row, cellValue(ses.Responses[b.ID]))
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// blockColumn builds a stable, readable column header for a block.
func blockColumn(b BlockInfo) string {
	if b.Title != "" {
		return b.Title + " (" + b.ID + ")"
	}
	return b.ID
}

// cellValue flattens a response value into one CSV cell. Scalars are printed
// as-is; arrays and objects are serialized as compact JSON.
func cellValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case float64:
		// JSON numbers decode as float64; keep integers clean.
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value))
		}
		return fmt.Sprintf("%g", value)
	case bool:
		return fmt.Sprintf("%t", value)
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(data)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
