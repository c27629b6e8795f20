package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Scopes are the OAuth scopes the adapter needs.
var Scopes = []string{
	gcal.CalendarScope,
}

// NewService creates a Calendar API service over an authenticated client.
func NewService(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*gcal.Service, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	srv, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Calendar client: %w", err)
	}
	return srv, nil
}

// FindCalendar returns the id of the calendar whose summary is name, or ""
// when there is none.
func FindCalendar(ctx context.Context, srv *gcal.Service, name string) (string, error) {
	var calendarID string
	err := srv.CalendarList.List().Pages(ctx, func(list *gcal.CalendarList) error {
		for _, item := range list.Items {
			if item.Summary == name && calendarID == "" {
				calendarID = item.Id
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("unable to retrieve calendar list: %w", err)
	}
	return calendarID, nil
}

// NewClient resolves the calendar called name, creating it in the primary
// calendar's time zone when missing, and resolves busyNames the same way
// without creating them.
func NewClient(ctx context.Context, srv *gcal.Service, name string, busyNames []string, logger *slog.Logger) (*CalendarClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	calendarID, err := FindCalendar(ctx, srv, name)
	if err != nil {
		return nil, err
	}

	client := NewCalendarClient(srv, calendarID, nil, logger)
	if calendarID == "" {
		calendarID, err = client.createCalendar(ctx, name)
		if err != nil {
			return nil, err
		}
		logger.Info("created calendar", "name", name, "id", calendarID)
	}

	busyIDs := []string{calendarID}
	for _, bn := range busyNames {
		if bn == "primary" {
			busyIDs = append(busyIDs, bn)
			continue
		}
		id, err := FindCalendar(ctx, srv, bn)
		if err != nil {
			return nil, err
		}
		if id == "" {
			logger.Warn("busy calendar not found", "name", bn)
			continue
		}
		busyIDs = append(busyIDs, id)
	}
	return NewCalendarClient(srv, calendarID, busyIDs, logger), nil
}

func (c *CalendarClient) createCalendar(ctx context.Context, name string) (string, error) {
	src, err := c.DefaultSource(ctx)
	if err != nil {
		return "", err
	}
	created, err := c.srv.Calendars.Insert(&gcal.Calendar{Summary: name, TimeZone: src.TimeZone}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("creating calendar %q: %w", name, err)
	}
	return created.Id, nil
}
