package tickets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_AssignsECOIDAndDefaults(t *testing.T) {
	tr := NewTracker()

	tk := tr.Create("Energy spike in HQ-01", "Peak 212 kWh vs avg 130", "Critical", "auto", "HQ-01")
	assert.Regexp(t, `^ECO-\d{5}$`, tk.TicketID)
	assert.Equal(t, "facilities-team", tk.Assignee)
	assert.Equal(t, "Open", tk.Status)
	assert.Contains(t, tk.URL, tk.TicketID)
}

func TestListOpen_FiltersByBuildingAndStatus(t *testing.T) {
	tr := NewTracker()
	a := tr.Create("a", "", "High", "auto", "HQ-01")
	tr.Create("b", "", "High", "auto", "HQ-02")
	c := tr.Create("c", "", "Low", "ops", "HQ-01")

	_, err := tr.UpdateStatus(c.TicketID, "Resolved")
	require.NoError(t, err)

	open := tr.ListOpen("HQ-01")
	require.Len(t, open, 1)
	assert.Equal(t, a.TicketID, open[0].TicketID)
}

func TestUpdateStatus_SetsUpdatedAt(t *testing.T) {
	tr := NewTracker()
	tk := tr.Create("a", "", "Medium", "auto", "HQ-01")

	updated, err := tr.UpdateStatus(tk.TicketID, "In Progress")
	require.NoError(t, err)
	assert.Equal(t, "In Progress", updated.Status)
	require.NotNil(t, updated.UpdatedAt)
}

func TestUpdateStatus_UnknownTicket(t *testing.T) {
	tr := NewTracker()
	_, err := tr.UpdateStatus("ECO-00000", "Closed")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPriorityForSeverity(t *testing.T) {
	assert.Equal(t, "Critical", PriorityForSeverity("high"))
	assert.Equal(t, "High", PriorityForSeverity("medium"))
	assert.Equal(t, "Medium", PriorityForSeverity("low"))
	assert.Equal(t, "Medium", PriorityForSeverity(""))
}
