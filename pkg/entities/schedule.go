package entities

import "time"

// Reminder is a one-shot scheduled message. The pollers deliver it and mark
// it sent; the dispatch core never touches reminders.
type Reminder struct {
	ID          int64
	PrincipalID int64
	TargetID    *int64
	Text        string
	RemindAt    time.Time
	ChatID      *int64
}

// Birthday is a stored birth date for the daily greeting job. The date is
// kept as "DD.MM" or "DD.MM.YYYY", matching how admins enter it.
type Birthday struct {
	PrincipalID int64
	Username    string
	FullName    string
	Date        string
}
