package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"
)

// GoogleSheets is a SheetBackend over the Google Sheets v4 API.
type GoogleSheets struct {
	service *sheets.Service
}

// NewGoogleSheets creates a Sheets client from a service account credentials file.
// An empty path uses application default credentials.
func NewGoogleSheets(ctx context.Context, credentialsFile string) (*GoogleSheets, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &GoogleSheets{service: srv}, nil
}

// ReadRows reads the values in rng as strings.
func (g *GoogleSheets) ReadRows(ctx context.Context, sheetID, rng string) ([][]string, error) {
	resp, err := g.service.Spreadsheets.Values.Get(sheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets get %s: %w", rng, classify(err))
	}
	rows := make([][]string, 0, len(resp.Values))
	for _, values := range resp.Values {
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = fmt.Sprint(v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// AppendRow appends row after the last row of rng.
func (g *GoogleSheets) AppendRow(ctx context.Context, sheetID, rng string, row []string) (string, error) {
	values := make([]interface{}, len(row))
	for i, v := range row {
		values[i] = v
	}
	resp, err := g.service.Spreadsheets.Values.Append(sheetID, rng, &sheets.ValueRange{
		Values: [][]interface{}{values},
	}).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("sheets append %s: %w", rng, classify(err))
	}
	if resp.Updates != nil {
		return resp.Updates.UpdatedRange, nil
	}
	return rng, nil
}

// classify marks rate limiting and server errors as temporary.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %w", ErrTemporary, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTemporary, err)
	}
	return err
}
