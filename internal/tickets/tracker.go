// Package tickets simulates a Jira-like maintenance ticket tracker. In
// production this would call the Jira REST API.
package tickets

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a ticket id has no match.
var ErrNotFound = errors.New("tickets: ticket not found")

// Ticket is one maintenance ticket.
type Ticket struct {
	TicketID    string     `json:"ticket_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	Assignee    string     `json:"assignee"`
	BuildingID  string     `json:"building_id"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	URL         string     `json:"url"`
}

// Tracker is an in-memory ticket store. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	tickets []Ticket
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// PriorityForSeverity maps anomaly severities to ticket priorities.
func PriorityForSeverity(severity string) string {
	switch severity {
	case "high":
		return "Critical"
	case "medium":
		return "High"
	default:
		return "Medium"
	}
}

// Create opens a ticket with an ECO-NNNNN id. An "auto" assignee routes
// to the facilities team.
func (t *Tracker) Create(title, description, priority, assignee, buildingID string) Ticket {
	if assignee == "" || assignee == "auto" {
		assignee = "facilities-team"
	}
	id := fmt.Sprintf("ECO-%05d", ticketNum())
	ticket := Ticket{
		TicketID:    id,
		Title:       title,
		Description: description,
		Priority:    priority,
		Assignee:    assignee,
		BuildingID:  buildingID,
		Status:      "Open",
		CreatedAt:   time.Now().UTC(),
		URL:         "https://ecoverify.atlassian.net/browse/" + id,
	}
	t.mu.Lock()
	t.tickets = append(t.tickets, ticket)
	t.mu.Unlock()
	return ticket
}

// ListOpen returns the open tickets for a building. An empty buildingID
// matches every building.
func (t *Tracker) ListOpen(buildingID string) []Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Ticket
	for _, tk := range t.tickets {
		if buildingID != "" && tk.BuildingID != buildingID {
			continue
		}
		if tk.Status == "Open" {
			out = append(out, tk)
		}
	}
	return out
}

// UpdateStatus transitions a ticket. Valid statuses: Open, In Progress,
// Resolved, Closed.
func (t *Tracker) UpdateStatus(ticketID, status string) (Ticket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.tickets {
		if t.tickets[i].TicketID == ticketID {
			now := time.Now().UTC()
			t.tickets[i].Status = status
			t.tickets[i].UpdatedAt = &now
			return t.tickets[i], nil
		}
	}
	return Ticket{}, fmt.Errorf("%w: %s", ErrNotFound, ticketID)
}

func ticketNum() int {
	var n uint64
	for _, b := range uuid.New() {
		n = n<<8 | uint64(b)
	}
	return int(n%90000) + 10000
}
