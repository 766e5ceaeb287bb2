package repository

import (
	"festtix/internal/backend"
)

type Repositories struct {
	Events        *EventRepository
	Tickets       *TicketRepository
	Profiles      *ProfileRepository
	Activities    *ActivityRepository
	Notifications *NotificationRepository
}

func NewRepositories(ds backend.DataService) *Repositories {
	return &Repositories{
		Events:        NewEventRepository(ds),
		Tickets:       NewTicketRepository(ds),
		Profiles:      NewProfileRepository(ds),
		Activities:    NewActivityRepository(ds),
		Notifications: NewNotificationRepository(ds),
	}
}
