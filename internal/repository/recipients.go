package repository

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"

	"waflow/internal/entities"
)

var unsafeColumn = regexp.MustCompile("[^a-zA-Z0-9_]+")

// sanitizeColumn turns a CSV header into a template variable name.
func sanitizeColumn(name string) string {
	return strings.Trim(strings.ToLower(unsafeColumn.ReplaceAllString(strings.TrimSpace(name), "_")), "_")
}

var destinationColumns = []string{"mobile", "number", "phone", "send_to"}

// ParseRecipientsCSV reads a recipient list. The header row names the
// variables; the destination comes from a mobile/number/phone/send_to column,
// or the first column when none of those exists. Short rows are padded and
// rows without a destination are skipped.
func ParseRecipientsCSV(r io.Reader) ([]entities.Recipient, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(rows) < 1 {
		return nil, fmt.Errorf("csv is empty")
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = sanitizeColumn(h)
		if headers[i] == "" {
			headers[i] = fmt.Sprintf("col_%d", i)
		}
	}

	destIdx := 0
	for _, name := range destinationColumns {
		if i := indexOf(headers, name); i >= 0 {
			destIdx = i
			break
		}
	}

	recipients := make([]entities.Recipient, 0, len(rows)-1)
	for _, row := range rows[1:] {
		for len(row) < len(headers) {
			row = append(row, "")
		}
		dest := strings.TrimSpace(row[destIdx])
		if dest == "" {
			continue
		}
		vars := make(map[string]any, len(headers))
		for i, h := range headers {
			if i != destIdx {
				vars[h] = strings.TrimSpace(row[i])
			}
		}
		recipients = append(recipients, entities.Recipient{Destination: dest, Variables: vars})
	}
	return recipients, nil
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
