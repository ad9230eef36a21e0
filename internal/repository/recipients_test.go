package repository

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waflow/internal/entities"
)

func TestParseRecipientsCSV(t *testing.T) {
	in := "Name,Mobile Number,City\nAna,+62 811-1,Jakarta\nBudi,62822\n,,\n"

	got, err := ParseRecipientsCSV(strings.NewReader(in))

	require.NoError(t, err)
	assert.Equal(t, []entities.Recipient{
		{Destination: "Ana", Variables: map[string]any{"mobile_number": "+62 811-1", "city": "Jakarta"}},
		{Destination: "Budi", Variables: map[string]any{"mobile_number": "62822", "city": ""}},
	}, got, "no known destination column falls back to the first one")
}

func TestParseRecipientsCSV_DestinationColumn(t *testing.T) {
	in := "name,mobile\nAna,62811\nBudi,\n"

	got, err := ParseRecipientsCSV(strings.NewReader(in))

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "62811", got[0].Destination)
	assert.Equal(t, map[string]any{"name": "Ana"}, got[0].Variables)
}

func TestParseRecipientsCSV_Empty(t *testing.T) {
	_, err := ParseRecipientsCSV(strings.NewReader(""))
	assert.Error(t, err)
}

func TestSanitizeColumn(t *testing.T) {
	assert.Equal(t, "first_name", sanitizeColumn(" First Name "))
	assert.Equal(t, "send_to", sanitizeColumn("send-to"))
	assert.Equal(t, "", sanitizeColumn("***"))
}
