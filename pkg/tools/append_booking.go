package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/utils"
)

// Booking row columns.
const (
	colName = iota
	colPhone
	colDate
	colTime
	colService
	colNotes
	colReference
)

// bookingArgs is the append_booking argument schema.
type bookingArgs struct {
	PatientName string `json:"patient_name" jsonschema:"required,description=Full name of the person booking"`
	Phone       string `json:"phone" jsonschema:"required,description=Contact phone number"`
	Date        string `json:"date" jsonschema:"required,description=Appointment date (YYYY-MM-DD)"`
	Time        string `json:"time" jsonschema:"required,description=Appointment time (HH:MM 24h)"`
	Service     string `json:"service,omitempty" jsonschema:"description=Requested service or doctor"`
	Notes       string `json:"notes,omitempty" jsonschema:"description=Anything else the clinic should know"`
}

// AppendBookingTool writes a booking row and can confirm it by re-reading the sheet.
type AppendBookingTool struct {
	backend SheetBackend
	sheetID string
	rng     string
	schema  InputSchema
}

// NewAppendBookingTool binds the tool to one tenant booking range.
func NewAppendBookingTool(backend SheetBackend, sheetID, rng string) *AppendBookingTool {
	return &AppendBookingTool{
		backend: backend,
		sheetID: sheetID,
		rng:     rng,
		schema:  GenerateSchema[bookingArgs](),
	}
}

func (t *AppendBookingTool) Name() string {
	return ToolAppendBooking
}

func (t *AppendBookingTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolAppendBooking,
		Description: "Record an appointment booking in the clinic's booking sheet. Only call after the user confirmed name, phone, date and time.",
		InputSchema: t.schema,
	}
}

func (t *AppendBookingTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	b, err := DecodeArgs[bookingArgs](args)
	if err != nil {
		return nil, err
	}

	rows, err := t.backend.ReadRows(ctx, t.sheetID, t.rng)
	if err != nil {
		return nil, fmt.Errorf("read bookings: %w", err)
	}
	if existing := findBooking(rows, &b); existing != nil {
		ref := ""
		if len(existing) > colReference {
			ref = existing[colReference]
		}
		return jsonResult(map[string]any{
			"success":   true,
			"duplicate": true,
			"reference": ref,
			"message":   "This booking already exists; no new row was written.",
		})
	}

	ref := strings.ToUpper(utils.NewID()[:8])
	row := []string{b.PatientName, b.Phone, b.Date, b.Time, b.Service, b.Notes, ref}
	updated, err := t.backend.AppendRow(ctx, t.sheetID, t.rng, row)
	if err != nil {
		return nil, fmt.Errorf("append booking: %w", err)
	}
	return jsonResult(map[string]any{
		"success":   true,
		"reference": ref,
		"range":     updated,
		"date":      b.Date,
		"time":      b.Time,
	})
}

// Verify re-reads the sheet and confirms the row with the returned reference exists.
func (t *AppendBookingTool) Verify(ctx context.Context, _ map[string]any, result *ExecResult) (bool, error) {
	var payload struct {
		Reference string `json:"reference"`
	}
	if err := json.Unmarshal([]byte(result.Content), &payload); err != nil {
		return false, fmt.Errorf("parse booking result: %w", err)
	}
	if payload.Reference == "" {
		return false, nil
	}
	rows, err := t.backend.ReadRows(ctx, t.sheetID, t.rng)
	if err != nil {
		return false, fmt.Errorf("re-read bookings: %w", err)
	}
	for _, row := range rows {
		if len(row) > colReference && row[colReference] == payload.Reference {
			return true, nil
		}
	}
	return false, nil
}

func findBooking(rows [][]string, b *bookingArgs) []string {
	for _, row := range rows {
		if len(row) <= colTime {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(row[colName]), strings.TrimSpace(b.PatientName)) &&
			strings.TrimSpace(row[colDate]) == strings.TrimSpace(b.Date) &&
			strings.TrimSpace(row[colTime]) == strings.TrimSpace(b.Time) {
			return row
		}
	}
	return nil
}
