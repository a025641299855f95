package export

import (
	"context"
	"fmt"
	"time"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetStudyInfo(ctx context.Context, studyID string) (StudyInfo, error)
	ListBlockInfo(ctx context.Context, studyID string) ([]BlockInfo, error)
	ListSessionInfo(ctx context.Context, studyID string) ([]SessionInfo, error)
}

// Service provides study results export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	study, err := s.store.GetStudyInfo(ctx, req.StudyID)
	if err != nil {
		return nil, fmt.Errorf("get study: %w", err)
	}

	blocks, err := s.store.ListBlockInfo(ctx, req.StudyID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}

	sessions, err := s.store.ListSessionInfo(ctx, req.StudyID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	switch req.Format {
	case FormatCSV:
		return s.exportCSV(study, blocks, sessions, req.Layout)
	case FormatPDF:
		return s.exportPDF(study, blocks, sessions)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

func (s *Service) exportCSV(study StudyInfo, blocks []BlockInfo, sessions []SessionInfo, layout Layout) (*Result, error) {
	var data []byte
	var err error
	suffix := string(layout)

	switch layout {
	case LayoutSessions:
		data, err = renderSessionsCSV(study, blocks, sessions)
	case LayoutResponses, "":
		suffix = string(LayoutResponses)
		data, err = renderResponsesCSV(study, blocks, sessions)
	default:
		return nil, fmt.Errorf("unsupported layout: %s", layout)
	}
	if err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}

	return &Result{
		Data:     data,
		Filename: sanitizeFilename(study.Title) + "-" + suffix + ".csv",
		MimeType: "text/csv",
	}, nil
}

func (s *Service) exportPDF(study StudyInfo, blocks []BlockInfo, sessions []SessionInfo) (*Result, error) {
	data := TemplateData{
		Title:       study.Title,
		Description: study.Description,
		Status:      study.Status,
		ExportedAt:  time.Now().UTC(),
		Blocks:      make([]TemplateBlock, 0, len(blocks)),
		Sessions:    make([]TemplateSession, 0, len(sessions)),
	}

	for _, b := range blocks {
		data.Blocks = append(data.Blocks, TemplateBlock{Type: b.Type, Title: b.Title})
	}
	for _, ses := range sessions {
		if ses.Status == "completed" {
			data.CompletedCount++
		}
		data.Sessions = append(data.Sessions, TemplateSession{
			ID:            ses.ID,
			ParticipantID: ses.ParticipantID,
			Status:        ses.Status,
			CurrentStep:   ses.CurrentStep,
			StartedAt:     formatTime(ses.StartedAt),
			EndedAt:       formatTimePtr(ses.EndedAt),
		})
	}

	html, err := RenderStudyHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return renderPDF(html, study.Title)
}
