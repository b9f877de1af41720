package agent

import (
	"fmt"

	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/tools"
)

// ToolBackends are the shared backends behind the tool set. A nil backend
// disables the tools that need it.
type ToolBackends struct {
	Sheets       tools.SheetBackend
	BookingRange string
	QueryRange   string
	Messaging    tools.MessagingBackend
	Search       tools.SearchProvider
	Knowledge    tools.KnowledgeSearcher
	Notes        tools.NoteWriter
}

// Registry builds the tools a tenant has enabled for one conversation.
// Tools bound to a conversation (create_note) are left out when
// conversationID is empty.
func (b *ToolBackends) Registry(ts *proto.TenantSettings, conversationID, userID string) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	var candidates []tools.Tool

	if b.Sheets != nil && ts.SheetID != "" {
		if ts.HasFeature(proto.FeatureSheets) {
			candidates = append(candidates, tools.NewSheetQueryTool(b.Sheets, ts.SheetID, b.QueryRange))
		}
		if ts.HasFeature(proto.FeatureBooking) {
			candidates = append(candidates, tools.NewAppendBookingTool(b.Sheets, ts.SheetID, b.BookingRange))
		}
	}
	if b.Knowledge != nil && ts.HasFeature(proto.FeatureKnowledge) {
		candidates = append(candidates, tools.NewSearchKnowledgeTool(b.Knowledge, ts.TenantID))
	}
	if b.Search != nil && ts.HasFeature(proto.FeatureWebSearch) {
		candidates = append(candidates, tools.NewWebSearchTool(b.Search))
	}
	if b.Notes != nil && conversationID != "" && ts.HasFeature(proto.FeatureNotes) {
		candidates = append(candidates, tools.NewCreateNoteTool(b.Notes, ts.TenantID, conversationID, userID))
	}
	if b.Messaging != nil && ts.HasFeature(proto.FeatureWhatsApp) {
		candidates = append(candidates, tools.NewSendWhatsAppTool(b.Messaging, ts.WhatsAppNumber))
	}

	for _, t := range candidates {
		if err := reg.Register(t); err != nil {
			return nil, fmt.Errorf("tenant %s: %w", ts.TenantID, err)
		}
	}
	return reg, nil
}
