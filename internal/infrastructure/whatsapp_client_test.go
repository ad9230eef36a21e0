package infrastructure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mau.fi/whatsmeow"

	"waflow/internal/entities"
)

func TestPhoneDigits(t *testing.T) {
	tests := map[string]string{
		"+62 811-1234":            "628111234",
		"62811@s.whatsapp.net":    "62811",
		"62811:12@s.whatsapp.net": "62811",
		"(021) 555":               "021555",
		"abc":                     "",
	}
	for in, want := range tests {
		assert.Equal(t, want, PhoneDigits(in), in)
	}
}

func TestTallyVote(t *testing.T) {
	selected := whatsmeow.HashPollOptions([]string{"Blue"})

	got := tallyVote([]string{"Red", "Blue"}, selected, "62811@s.whatsapp.net")

	assert.Equal(t, []entities.PollOptionVotes{
		{Name: "Red", Voters: []string{}},
		{Name: "Blue", Voters: []string{"62811@s.whatsapp.net"}},
	}, got)
	assert.Equal(t, "Blue", firstVote(got))
}
