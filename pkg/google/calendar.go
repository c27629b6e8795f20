package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/harrisonrobin/taskplan/pkg/calendar"
	"github.com/harrisonrobin/taskplan/pkg/model"
)

// CalendarClient implements calendar.Calendar on one Google calendar.
// Busy time is read from busyIDs, which default to the target calendar.
type CalendarClient struct {
	srv        *gcal.Service
	calendarID string
	busyIDs    []string
	logger     *slog.Logger
}

var _ calendar.Calendar = (*CalendarClient)(nil)

// NewCalendarClient creates a client writing to calendarID.
func NewCalendarClient(srv *gcal.Service, calendarID string, busyIDs []string, logger *slog.Logger) *CalendarClient {
	if len(busyIDs) == 0 {
		busyIDs = []string{calendarID}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CalendarClient{srv: srv, calendarID: calendarID, busyIDs: busyIDs, logger: logger}
}

func (c *CalendarClient) CalendarID() string {
	return c.calendarID
}

// RequestAccess probes the target calendar. Rejected credentials are a
// denial, not an error.
func (c *CalendarClient) RequestAccess(ctx context.Context) (bool, error) {
	_, err := c.srv.Calendars.Get(c.calendarID).Context(ctx).Do()
	if err == nil {
		return true, nil
	}
	if isDenied(err) {
		c.logger.Warn("calendar access denied", "calendar", c.calendarID, "err", err)
		return false, nil
	}
	return false, fmt.Errorf("probing calendar %s: %w", c.calendarID, err)
}

func (c *CalendarClient) BusyIntervals(ctx context.Context, window model.WorkWindow) ([]model.BusyInterval, error) {
	req := &gcal.FreeBusyRequest{
		TimeMin: window.Start.Format(time.RFC3339),
		TimeMax: window.End.Format(time.RFC3339),
	}
	for _, id := range c.busyIDs {
		req.Items = append(req.Items, &gcal.FreeBusyRequestItem{Id: id})
	}
	resp, err := c.srv.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("querying free/busy: %w", err)
	}

	var busy []model.BusyInterval
	for id, fb := range resp.Calendars {
		for _, e := range fb.Errors {
			c.logger.Warn("free/busy unavailable", "calendar", id, "reason", e.Reason)
		}
		for _, p := range fb.Busy {
			start, err := time.Parse(time.RFC3339, p.Start)
			if err != nil {
				return nil, fmt.Errorf("parsing busy start %q: %w", p.Start, err)
			}
			end, err := time.Parse(time.RFC3339, p.End)
			if err != nil {
				return nil, fmt.Errorf("parsing busy end %q: %w", p.End, err)
			}
			busy = append(busy, model.BusyInterval{Start: start, End: end})
		}
	}
	return busy, nil
}

func (c *CalendarClient) CreateEntry(ctx context.Context, d calendar.Draft) (string, error) {
	created, err := c.srv.Events.Insert(c.calendarID, toEvent(d)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("%w: inserting event: %v", calendar.ErrWriteFailed, err)
	}
	return created.Id, nil
}

func (c *CalendarClient) UpdateEntry(ctx context.Context, id string, d calendar.Draft) error {
	existing, err := c.getEvent(ctx, id)
	if err != nil {
		return err
	}
	patch, err := eventPatch(existing, toEvent(d))
	if err != nil {
		return fmt.Errorf("comparing event %s: %w", id, err)
	}
	if patch == nil {
		c.logger.Debug("event up to date", "id", id)
		return nil
	}
	if _, err := c.srv.Events.Patch(c.calendarID, id, patch).Context(ctx).Do(); err != nil {
		if isGone(err) {
			return fmt.Errorf("%w: %s", calendar.ErrEntryNotFound, id)
		}
		return fmt.Errorf("%w: patching event %s: %v", calendar.ErrWriteFailed, id, err)
	}
	return nil
}

func (c *CalendarClient) RemoveEntry(ctx context.Context, id string) error {
	err := c.srv.Events.Delete(c.calendarID, id).Context(ctx).Do()
	if err == nil || isGone(err) {
		return nil
	}
	return fmt.Errorf("%w: deleting event %s: %v", calendar.ErrWriteFailed, id, err)
}

func (c *CalendarClient) Entry(ctx context.Context, id string) (calendar.Entry, error) {
	ev, err := c.getEvent(ctx, id)
	if err != nil {
		return calendar.Entry{}, err
	}
	return fromEvent(ev)
}

func (c *CalendarClient) getEvent(ctx context.Context, id string) (*gcal.Event, error) {
	ev, err := c.srv.Events.Get(c.calendarID, id).Context(ctx).Do()
	if err != nil {
		if isGone(err) {
			return nil, fmt.Errorf("%w: %s", calendar.ErrEntryNotFound, id)
		}
		return nil, fmt.Errorf("fetching event %s: %w", id, err)
	}
	if ev.Status == "cancelled" {
		return nil, fmt.Errorf("%w: %s", calendar.ErrEntryNotFound, id)
	}
	return ev, nil
}

// EntriesInRange lists single instances of events starting in [start, end).
func (c *CalendarClient) EntriesInRange(ctx context.Context, start, end time.Time) ([]calendar.Entry, error) {
	var entries []calendar.Entry
	call := c.srv.Events.List(c.calendarID).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime")
	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, ev := range page.Items {
			if ev.Status == "cancelled" {
				continue
			}
			e, err := fromEvent(ev)
			if err != nil {
				c.logger.Warn("skipping event", "id", ev.Id, "err", err)
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve events from calendar: %w", err)
	}
	return entries, nil
}

// DefaultSource describes the account's primary calendar.
func (c *CalendarClient) DefaultSource(ctx context.Context) (calendar.Source, error) {
	primary, err := c.srv.Calendars.Get("primary").Context(ctx).Do()
	if err != nil {
		return calendar.Source{}, fmt.Errorf("fetching primary calendar: %w", err)
	}
	return calendar.Source{ID: primary.Id, Title: primary.Summary, TimeZone: primary.TimeZone}, nil
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
	}
	return false
}

func isDenied(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden
	}
	var rerr *oauth2.RetrieveError
	return errors.As(err, &rerr)
}
