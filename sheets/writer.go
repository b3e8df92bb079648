package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cmt-fetcher/logging"
	"cmt-fetcher/models"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// maxSheetNameLen is the longest tab title Google Sheets accepts
const maxSheetNameLen = 100

// Writer handles writing catalog results to Google Sheets
type Writer struct {
	service       *sheets.Service
	spreadsheetID string
	logger        zerolog.Logger
}

// NewWriter creates a new Google Sheets writer. credentials is either a
// path to a service account JSON file or the JSON itself.
func NewWriter(ctx context.Context, spreadsheetID, credentials string) (*Writer, error) {
	credsJSON, err := readCredentials(credentials)
	if err != nil {
		return nil, err
	}
	return NewWriterWithOptions(ctx, spreadsheetID, option.WithCredentialsJSON(credsJSON))
}

// NewWriterWithOptions creates a writer with explicit client options
func NewWriterWithOptions(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Writer, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet ID is empty")
	}

	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Writer{
		service:       service,
		spreadsheetID: spreadsheetID,
		logger:        logging.NewLogger("sheets"),
	}, nil
}

// readCredentials loads and validates service account credentials
func readCredentials(credentials string) ([]byte, error) {
	credentials = strings.TrimSpace(credentials)
	if credentials == "" {
		return nil, fmt.Errorf("credentials not found: set -credentials or GOOGLE_SHEETS_CREDENTIALS")
	}

	credsJSON := []byte(credentials)
	if !strings.HasPrefix(credentials, "{") {
		var err error
		credsJSON, err = os.ReadFile(credentials)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
	}

	var creds map[string]interface{}
	if err := json.Unmarshal(credsJSON, &creds); err != nil {
		return nil, fmt.Errorf("invalid credentials JSON (check if JSON is properly formatted): %w", err)
	}
	if creds["type"] != "service_account" {
		return nil, fmt.Errorf("credentials must be a service account JSON file (type: service_account), got type: %v", creds["type"])
	}

	return credsJSON, nil
}

// CreateSheetAndWriteResult creates a new sheet at the beginning of the
// spreadsheet and writes the result to it: a metadata row with queryURL,
// the header lines, the column names and one row per solution.
// Returns the sheet name and sheet ID (gid) that was created.
func (w *Writer) CreateSheetAndWriteResult(ctx context.Context, sheetName string, result *models.Result, queryURL string) (string, int64, error) {
	sheetName = sanitizeSheetName(sheetName)

	batchUpdateRequest := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{
						Title:           sheetName,
						Index:           0,
						ForceSendFields: []string{"Index"},
					},
				},
			},
		},
	}

	batchUpdateResp, err := w.service.Spreadsheets.BatchUpdate(w.spreadsheetID, batchUpdateRequest).Context(ctx).Do()
	if err != nil {
		return "", 0, fmt.Errorf("failed to create sheet: %w", err)
	}

	var sheetID int64
	if len(batchUpdateResp.Replies) > 0 && batchUpdateResp.Replies[0].AddSheet != nil {
		sheetID = batchUpdateResp.Replies[0].AddSheet.Properties.SheetId
	}

	w.logger.Info().Str("sheet", sheetName).Int64("sheet_id", sheetID).Msg("Created sheet")

	valueRange := &sheets.ValueRange{
		Values: resultValues(result, queryURL),
	}

	_, err = w.service.Spreadsheets.Values.Update(w.spreadsheetID, sheetRange(sheetName), valueRange).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return "", 0, fmt.Errorf("failed to write to sheet: %w", err)
	}

	w.logger.Info().
		Str("sheet", sheetName).
		Int("solutions", len(result.Solutions)).
		Msg("Wrote result to sheet")
	return sheetName, sheetID, nil
}

// resultValues lays out the rows of a result sheet
func resultValues(result *models.Result, queryURL string) [][]interface{} {
	var values [][]interface{}

	if queryURL != "" {
		values = append(values, []interface{}{"Query", queryURL})
	}
	for _, line := range result.Header {
		values = append(values, []interface{}{line})
	}

	columns := make([]interface{}, len(models.Columns))
	for i, c := range models.Columns {
		columns[i] = c
	}
	values = append(values, columns)

	for _, s := range result.Solutions {
		values = append(values, s.Values())
	}

	return values
}

// sheetRange returns the A1 reference of the first cell of a sheet
func sheetRange(sheetName string) string {
	return fmt.Sprintf("'%s'!A1", strings.ReplaceAll(sheetName, "'", "''"))
}

// sanitizeSheetName removes invalid characters from sheet name
func sanitizeSheetName(name string) string {
	// Google Sheets sheet names cannot contain: / \ ? * [ ]
	invalidChars := []string{"/", "\\", "?", "*", "[", "]"}
	result := name
	for _, char := range invalidChars {
		result = strings.ReplaceAll(result, char, "_")
	}
	result = strings.TrimSpace(result)
	if result == "" {
		result = "Sheet1"
	}
	if r := []rune(result); len(r) > maxSheetNameLen {
		result = string(r[:maxSheetNameLen])
	}
	return result
}

// ExtractSpreadsheetID extracts the spreadsheet ID from a Google Sheets URL.
// A bare ID is returned unchanged.
func ExtractSpreadsheetID(url string) string {
	// https://docs.google.com/spreadsheets/d/SPREADSHEET_ID/edit?usp=sharing
	parts := strings.Split(url, "/d/")
	if len(parts) < 2 {
		if strings.ContainsAny(url, "/?:") {
			return ""
		}
		return strings.TrimSpace(url)
	}

	idPart := parts[1]
	if idx := strings.Index(idPart, "/"); idx != -1 {
		idPart = idPart[:idx]
	}
	if idx := strings.Index(idPart, "?"); idx != -1 {
		idPart = idPart[:idx]
	}

	return strings.TrimSpace(idPart)
}
