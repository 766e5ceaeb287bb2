package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventRequestsCapTextLengths(t *testing.T) {
	long := strings.Repeat("é", MaxDescriptionLength+1)
	create := CreateEventRequest{Title: "Quiz", Category: "Tech", Capacity: 10, Description: long}
	assert.Contains(t, create.Validate(), "description")

	create.Description = strings.Repeat("é", MaxDescriptionLength)
	assert.Empty(t, create.Validate(), "the limit counts characters, not bytes")

	title := strings.Repeat("t", MaxTitleLength+1)
	update := UpdateEventRequest{Title: &title, Description: &long}
	problems := update.Validate()
	assert.Contains(t, problems, "title")
	assert.Contains(t, problems, "description")
}

func TestBroadcastRequestDefaultsAudience(t *testing.T) {
	req := BroadcastRequest{Title: "Rain", Message: "Events move indoors"}
	assert.Empty(t, req.Validate())
	assert.Equal(t, AudienceAll, req.Audience)

	req = BroadcastRequest{Title: " ", Message: strings.Repeat("m", MaxNotificationMessageLength+1), Audience: "pending"}
	problems := req.Validate()
	assert.Len(t, problems, 3)
}
