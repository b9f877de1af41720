package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/logx"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

// ErrEmptyRecord is returned when a record or proposal has no content.
var ErrEmptyRecord = errors.New("record title and content are required")

// Store persists records, their chunks and modification requests.
type Store interface {
	ChunkSource
	SaveRecord(ctx context.Context, r *proto.AgentRecord, chunks []proto.RecordChunk) error
	GetRecord(ctx context.Context, tenantID, id string) (*proto.AgentRecord, error)
	ListRecords(ctx context.Context, tenantID string) ([]proto.AgentRecord, error)
	DeleteRecord(ctx context.Context, tenantID, id string) error
	CreateModification(ctx context.Context, m *proto.ModificationRequest) error
	GetModification(ctx context.Context, tenantID, id string) (*proto.ModificationRequest, error)
	ListModifications(ctx context.Context, tenantID string, status proto.ModificationStatus) ([]proto.ModificationRequest, error)
	ResolveModification(ctx context.Context, m *proto.ModificationRequest, status proto.ModificationStatus,
		record *proto.AgentRecord, chunks []proto.RecordChunk) error
}

// Service is the record API. Admins edit records directly; the agent can
// only propose edits and deletions, which take effect once approved.
type Service struct {
	store     Store
	chunkSize int
	logger    *logx.Logger
}

// NewService creates a record service. chunkSize <= 0 uses DefaultChunkSize.
func NewService(store Store, chunkSize int) *Service {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Service{store: store, chunkSize: chunkSize, logger: logx.NewLogger("knowledge")}
}

// Searcher returns a keyword searcher over the service's store.
func (s *Service) Searcher() *Searcher {
	return NewSearcher(s.store)
}

func (s *Service) chunks(r *proto.AgentRecord) []proto.RecordChunk {
	texts := Chunk(r.Content, s.chunkSize)
	out := make([]proto.RecordChunk, len(texts))
	for i, text := range texts {
		out[i] = proto.RecordChunk{RecordID: r.ID, Index: i, Text: text}
	}
	return out
}

// SaveRecord creates or replaces a record and re-chunks its content.
func (s *Service) SaveRecord(ctx context.Context, r *proto.AgentRecord) error {
	r.Title = strings.TrimSpace(r.Title)
	r.Content = strings.TrimSpace(r.Content)
	if r.Title == "" || r.Content == "" {
		return ErrEmptyRecord
	}
	if err := s.store.SaveRecord(ctx, r, s.chunks(r)); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	s.logger.Info("record %s saved for tenant %s", r.ID, r.TenantID)
	return nil
}

func (s *Service) GetRecord(ctx context.Context, tenantID, id string) (*proto.AgentRecord, error) {
	r, err := s.store.GetRecord(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

func (s *Service) ListRecords(ctx context.Context, tenantID string) ([]proto.AgentRecord, error) {
	records, err := s.store.ListRecords(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

func (s *Service) DeleteRecord(ctx context.Context, tenantID, id string) error {
	if err := s.store.DeleteRecord(ctx, tenantID, id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// ProposeEdit files a pending edit of an existing record. Empty title keeps
// the current one.
func (s *Service) ProposeEdit(ctx context.Context, tenantID, recordID, title, content, reason string) (*proto.ModificationRequest, error) {
	current, err := s.store.GetRecord(ctx, tenantID, recordID)
	if err != nil {
		return nil, fmt.Errorf("propose edit: %w", err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyRecord
	}
	if title = strings.TrimSpace(title); title == "" {
		title = current.Title
	}
	return s.propose(ctx, &proto.ModificationRequest{
		TenantID:        tenantID,
		RecordID:        recordID,
		Kind:            proto.ModificationEdit,
		ProposedTitle:   title,
		ProposedContent: content,
		Reason:          reason,
	})
}

// ProposeDelete files a pending deletion of an existing record.
func (s *Service) ProposeDelete(ctx context.Context, tenantID, recordID, reason string) (*proto.ModificationRequest, error) {
	if _, err := s.store.GetRecord(ctx, tenantID, recordID); err != nil {
		return nil, fmt.Errorf("propose delete: %w", err)
	}
	return s.propose(ctx, &proto.ModificationRequest{
		TenantID: tenantID,
		RecordID: recordID,
		Kind:     proto.ModificationDelete,
		Reason:   reason,
	})
}

func (s *Service) propose(ctx context.Context, m *proto.ModificationRequest) (*proto.ModificationRequest, error) {
	if err := s.store.CreateModification(ctx, m); err != nil {
		return nil, fmt.Errorf("create modification request: %w", err)
	}
	s.logger.Info("%s of record %s proposed (request %s)", m.Kind, m.RecordID, m.ID)
	return m, nil
}

// ListPending returns the tenant's modification requests awaiting review.
func (s *Service) ListPending(ctx context.Context, tenantID string) ([]proto.ModificationRequest, error) {
	pending, err := s.store.ListModifications(ctx, tenantID, proto.ModificationPending)
	if err != nil {
		return nil, fmt.Errorf("list pending modifications: %w", err)
	}
	return pending, nil
}

// Approve applies a pending request: an edit replaces the record's title and
// content and re-chunks it, a delete removes the record.
func (s *Service) Approve(ctx context.Context, tenantID, requestID string) (*proto.ModificationRequest, error) {
	m, err := s.store.GetModification(ctx, tenantID, requestID)
	if err != nil {
		return nil, fmt.Errorf("approve: %w", err)
	}
	var (
		record *proto.AgentRecord
		chunks []proto.RecordChunk
	)
	if m.Kind == proto.ModificationEdit {
		record, err = s.store.GetRecord(ctx, tenantID, m.RecordID)
		if err != nil {
			return nil, fmt.Errorf("approve %s: %w", requestID, err)
		}
		record.Title = m.ProposedTitle
		record.Content = m.ProposedContent
		chunks = s.chunks(record)
	}
	if err := s.store.ResolveModification(ctx, m, proto.ModificationApproved, record, chunks); err != nil {
		return nil, fmt.Errorf("approve %s: %w", requestID, err)
	}
	s.logger.Info("modification %s approved (%s of record %s)", m.ID, m.Kind, m.RecordID)
	return m, nil
}

// Reject closes a pending request without touching the record.
func (s *Service) Reject(ctx context.Context, tenantID, requestID string) (*proto.ModificationRequest, error) {
	m, err := s.store.GetModification(ctx, tenantID, requestID)
	if err != nil {
		return nil, fmt.Errorf("reject: %w", err)
	}
	if err := s.store.ResolveModification(ctx, m, proto.ModificationRejected, nil, nil); err != nil {
		return nil, fmt.Errorf("reject %s: %w", requestID, err)
	}
	s.logger.Info("modification %s rejected", m.ID)
	return m, nil
}
