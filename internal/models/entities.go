package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Field limits; the title matches its column, the description keeps event
// writes comfortably inside one change notification
const (
	MaxTitleLength       = 300
	MaxDescriptionLength = 4000
)

// CreateEventRequest - payload for admin event creation
type CreateEventRequest struct {
	Title       string    `json:"title" binding:"required"`
	Category    string    `json:"category" binding:"required"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"event_date" binding:"required"`
	Venue       string    `json:"venue"`
	Capacity    int       `json:"capacity" binding:"required"`
	Duration    string    `json:"duration"`
	Emoji       string    `json:"emoji"`
}

// Validate checks business rules gin binding cannot express
func (r *CreateEventRequest) Validate() map[string]string {
	problems := map[string]string{}
	if strings.TrimSpace(r.Title) == "" {
		problems["title"] = "title is required"
	}
	if strings.TrimSpace(r.Category) == "" {
		problems["category"] = "category is required"
	}
	checkLengths(problems, &r.Title, &r.Description)
	if r.Capacity <= 0 {
		problems["capacity"] = "capacity must be a positive integer"
	}
	return problems
}

// UpdateEventRequest - partial update; nil fields are left untouched.
// tickets_booked is deliberately absent: the counter only moves through the
// increment/decrement procedures.
type UpdateEventRequest struct {
	Title       *string    `json:"title"`
	Category    *string    `json:"category"`
	Description *string    `json:"description"`
	StartsAt    *time.Time `json:"event_date"`
	Venue       *string    `json:"venue"`
	Capacity    *int       `json:"capacity"`
	Duration    *string    `json:"duration"`
	Emoji       *string    `json:"emoji"`
}

// Validate checks the fields that are present
func (r *UpdateEventRequest) Validate() map[string]string {
	problems := map[string]string{}
	if r.Title != nil && strings.TrimSpace(*r.Title) == "" {
		problems["title"] = "title cannot be empty"
	}
	if r.Category != nil && strings.TrimSpace(*r.Category) == "" {
		problems["category"] = "category cannot be empty"
	}
	checkLengths(problems, r.Title, r.Description)
	if r.Capacity != nil && *r.Capacity <= 0 {
		problems["capacity"] = "capacity must be a positive integer"
	}
	return problems
}

func checkLengths(problems map[string]string, title, description *string) {
	if title != nil && utf8.RuneCountInString(*title) > MaxTitleLength {
		problems["title"] = "title is too long"
	}
	if description != nil && utf8.RuneCountInString(*description) > MaxDescriptionLength {
		problems["description"] = "description is too long"
	}
}

// ListEventsQuery - catalog filters
type ListEventsQuery struct {
	Query    string
	Category string
}

// BookTicketRequest - POST /api/tickets
type BookTicketRequest struct {
	EventID string `json:"event_id" binding:"required"`
}

// TicketsResponse - GET /api/tickets
type TicketsResponse struct {
	Tickets []Ticket `json:"tickets"`
	Stale   bool     `json:"stale"`
}

// ErrorResponse is the JSON error body
type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Broadcast audiences
const (
	AudienceAll       = "all"
	AudienceConfirmed = "confirmed"
)

const (
	MaxNotificationTitleLength   = 200
	MaxNotificationMessageLength = 2000
)

// BroadcastRequest - POST /api/admin/notifications
type BroadcastRequest struct {
	Title    string `json:"title" binding:"required"`
	Message  string `json:"message" binding:"required"`
	Audience string `json:"audience"`
}

// Validate defaults the audience to everyone and checks the text
func (r *BroadcastRequest) Validate() map[string]string {
	problems := map[string]string{}
	if strings.TrimSpace(r.Title) == "" {
		problems["title"] = "title is required"
	} else if utf8.RuneCountInString(r.Title) > MaxNotificationTitleLength {
		problems["title"] = "title is too long"
	}
	if strings.TrimSpace(r.Message) == "" {
		problems["message"] = "message is required"
	} else if utf8.RuneCountInString(r.Message) > MaxNotificationMessageLength {
		problems["message"] = "message is too long"
	}
	switch r.Audience {
	case "":
		r.Audience = AudienceAll
	case AudienceAll, AudienceConfirmed:
	default:
		problems["audience"] = "audience must be all or confirmed"
	}
	return problems
}

// BroadcastResult - response of a broadcast
type BroadcastResult struct {
	Audience string `json:"audience"`
	Sent     int    `json:"sent"`
	Failed   int    `json:"failed"`
}

// NotificationsResponse - GET /api/notifications
type NotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
}
