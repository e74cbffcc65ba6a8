package model

import "time"

// User is a person whose time is planned. TelegramID is set for users
// that talk to the bot.
type User struct {
	ID          uint   `gorm:"primaryKey"`
	TelegramID  *int64 `gorm:"uniqueIndex"`
	Name        string
	Username    string
	Timezone    string     `gorm:"size:64"`
	Country     string     `gorm:"size:8"`
	WindowStart *ClockTime `gorm:"type:varchar(5)"`
	WindowEnd   *ClockTime `gorm:"type:varchar(5)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Location resolves the user's timezone, falling back to fallback (or
// time.Local) when it is unset or unknown.
func (u User) Location(fallback *time.Location) *time.Location {
	if u.Timezone != "" {
		if loc, err := time.LoadLocation(u.Timezone); err == nil {
			return loc
		}
	}
	if fallback != nil {
		return fallback
	}
	return time.Local
}

type WorkLocation string

const (
	LocationHome   WorkLocation = "home"
	LocationOffice WorkLocation = "office"
)

// WorkDay is one row of a user's weekly work schedule.
type WorkDay struct {
	ID                 uint         `gorm:"primaryKey"`
	UserID             uint         `gorm:"uniqueIndex:idx_user_weekday"`
	Weekday            Weekday      `gorm:"uniqueIndex:idx_user_weekday"`
	IsWorking          bool         `gorm:"default:false"`
	StartTime          ClockTime    `gorm:"type:varchar(5)"`
	EndTime            ClockTime    `gorm:"type:varchar(5)"`
	Location           WorkLocation `gorm:"size:16;default:home"`
	CommuteToMinutes   *int
	CommuteFromMinutes *int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Vacation blocks whole days from StartDate to EndDate inclusive.
type Vacation struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index"`
	StartDate string `gorm:"size:10"`
	EndDate   string `gorm:"size:10"`
	Note      string
	CreatedAt time.Time
}

// CalendarSubscription is an ICS feed read as the user's third-party calendar.
type CalendarSubscription struct {
	ID        uint `gorm:"primaryKey"`
	UserID    uint `gorm:"index"`
	Name      string
	URL       string
	CreatedAt time.Time
}

// CalendarEvent is an event written by the planner into the user's own
// calendar (mirrors of committed instances).
type CalendarEvent struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    uint   `gorm:"index"`
	Title     string
	Body      string
	StartAt   time.Time
	EndAt     time.Time
	CreatedAt time.Time
}
