package caldav

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient implements Client against a CalDAV server (Baikal, Radicale,
// SabreDAV). Calendar identifiers are the server paths of the collections.
// The client performs no retries itself; callers wrap calls in their own
// retry policy.
type HTTPClient struct {
	baseURL    string
	homeSet    string
	username   string
	password   string
	httpClient *http.Client
}

// NewHTTPClient builds a CalDAV client. homeSet is the calendar-home path,
// e.g. "/dav.php/calendars/alice/".
func NewHTTPClient(baseURL, homeSet, username, password string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	homeSet = "/" + strings.Trim(strings.TrimSpace(homeSet), "/") + "/"
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		homeSet:    homeSet,
		username:   username,
		password:   password,
		httpClient: httpClient,
	}
}

type multistatus struct {
	XMLName   xml.Name       `xml:"DAV: multistatus"`
	Responses []davResponse  `xml:"response"`
}

type davResponse struct {
	Href     string     `xml:"href"`
	Propstat []propstat `xml:"propstat"`
}

type propstat struct {
	Prop   davProp `xml:"prop"`
	Status string  `xml:"status"`
}

type davProp struct {
	DisplayName  string        `xml:"displayname"`
	Description  string        `xml:"urn:ietf:params:xml:ns:caldav calendar-description"`
	ResourceType resourceType  `xml:"resourcetype"`
	CalendarData string        `xml:"urn:ietf:params:xml:ns:caldav calendar-data"`
}

type resourceType struct {
	Calendar      *struct{} `xml:"urn:ietf:params:xml:ns:caldav calendar"`
	ScheduleInbox *struct{} `xml:"urn:ietf:params:xml:ns:caldav schedule-inbox"`
}

const listCalendarsBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop>
    <d:displayname/>
    <d:resourcetype/>
    <c:calendar-description/>
  </d:prop>
</d:propfind>`

const listEventsBody = `<?xml version="1.0" encoding="utf-8"?>
<c:calendar-query xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop>
    <c:calendar-data/>
  </d:prop>
  <c:filter>
    <c:comp-filter name="VCALENDAR">
      <c:comp-filter name="VEVENT"/>
    </c:comp-filter>
  </c:filter>
</c:calendar-query>`

func (c *HTTPClient) ListCalendars(ctx context.Context) ([]Calendar, error) {
	status, body, err := c.do(ctx, "PROPFIND", c.homeSet, []byte(listCalendarsBody), map[string]string{
		"Depth":        "1",
		"Content-Type": "application/xml; charset=utf-8",
	})
	if err != nil {
		return nil, err
	}
	if status != http.StatusMultiStatus {
		return nil, &ProtocolError{StatusCode: status, Message: "propfind failed"}
	}
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, &ProtocolError{StatusCode: status, Message: "malformed multistatus: " + err.Error()}
	}
	var calendars []Calendar
	for _, resp := range ms.Responses {
		prop, ok := okProp(resp)
		if !ok || prop.ResourceType.Calendar == nil {
			continue
		}
		// Scheduling collections are never sync targets.
		if prop.ResourceType.ScheduleInbox != nil || strings.EqualFold(prop.DisplayName, "inbox") ||
			strings.Contains(strings.ToLower(resp.Href), "inbox") {
			continue
		}
		calendars = append(calendars, Calendar{
			ID:          resp.Href,
			Name:        prop.DisplayName,
			Description: prop.Description,
			URL:         c.baseURL + resp.Href,
		})
	}
	return calendars, nil
}

func (c *HTTPClient) CreateCalendar(ctx context.Context, name, description string) (Calendar, error) {
	path := c.homeSet + slugify(name) + "/"
	body := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<c:mkcalendar xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:set>
    <d:prop>
      <d:displayname>%s</d:displayname>
      <c:calendar-description>%s</c:calendar-description>
    </d:prop>
  </d:set>
</c:mkcalendar>`, xmlEscape(name), xmlEscape(description))
	status, _, err := c.do(ctx, "MKCALENDAR", path, []byte(body), map[string]string{
		"Content-Type": "application/xml; charset=utf-8",
	})
	if err != nil {
		return Calendar{}, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return Calendar{}, &ProtocolError{StatusCode: status, Message: "mkcalendar failed"}
	}
	return Calendar{
		ID:          path,
		Name:        name,
		Description: description,
		URL:         c.baseURL + path,
	}, nil
}

func (c *HTTPClient) ListEvents(ctx context.Context, calendarID string) ([]Event, error) {
	status, body, err := c.do(ctx, "REPORT", calendarID, []byte(listEventsBody), map[string]string{
		"Depth":        "1",
		"Content-Type": "application/xml; charset=utf-8",
	})
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, &NotFoundError{Kind: "calendar", ID: calendarID}
	}
	if status != http.StatusMultiStatus {
		return nil, &ProtocolError{StatusCode: status, Message: "calendar-query failed"}
	}
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, &ProtocolError{StatusCode: status, Message: "malformed multistatus: " + err.Error()}
	}
	var events []Event
	for _, resp := range ms.Responses {
		prop, ok := okProp(resp)
		if !ok || strings.TrimSpace(prop.CalendarData) == "" {
			continue
		}
		decoded, err := decodeEvents(strings.NewReader(prop.CalendarData))
		if err != nil {
			return nil, &ProtocolError{StatusCode: status, Message: err.Error()}
		}
		events = append(events, decoded...)
	}
	return events, nil
}

func (c *HTTPClient) CreateEvent(ctx context.Context, calendarID string, event Event) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	status, _, err := c.do(ctx, http.MethodPut, eventPath(calendarID, event.UID), payload, map[string]string{
		"Content-Type":  "text/calendar; charset=utf-8",
		"If-None-Match": "*",
	})
	if err != nil {
		return err
	}
	if status != http.StatusCreated && status != http.StatusNoContent && status != http.StatusOK {
		return &ProtocolError{StatusCode: status, Message: "event create failed"}
	}
	return nil
}

func (c *HTTPClient) UpdateEvent(ctx context.Context, calendarID, uid string, event Event) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	status, _, err := c.do(ctx, http.MethodPut, eventPath(calendarID, uid), payload, map[string]string{
		"Content-Type": "text/calendar; charset=utf-8",
	})
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return &NotFoundError{Kind: "event", ID: uid}
	}
	if status != http.StatusCreated && status != http.StatusNoContent && status != http.StatusOK {
		return &ProtocolError{StatusCode: status, Message: "event update failed"}
	}
	return nil
}

func (c *HTTPClient) DeleteEvent(ctx context.Context, calendarID, uid string) error {
	status, _, err := c.do(ctx, http.MethodDelete, eventPath(calendarID, uid), nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound || status == http.StatusGone {
		return &NotFoundError{Kind: "event", ID: uid}
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return &ProtocolError{StatusCode: status, Message: "event delete failed"}
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, headers map[string]string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, &ProtocolError{Message: err.Error()}
	}
	req.SetBasicAuth(c.username, c.password)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &ProtocolError{Message: err.Error()}
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return 0, nil, &ProtocolError{Message: readErr.Error()}
	}
	return resp.StatusCode, payload, nil
}

func okProp(resp davResponse) (davProp, bool) {
	for _, ps := range resp.Propstat {
		if strings.Contains(ps.Status, "200") {
			return ps.Prop, true
		}
	}
	return davProp{}, false
}

func eventPath(calendarID, uid string) string {
	return strings.TrimRight(calendarID, "/") + "/" + uid + ".ics"
}

func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == ':', r == '-', r == '_', r == '/':
			b.WriteRune('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	if slug == "" {
		slug = "calendar"
	}
	return slug
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
