package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/task-lifecycle/pkg/core/sla"
)

func withoutColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func TestTableRender(t *testing.T) {
	withoutColor(t)

	table := NewTable([]string{"ID", "STATUS"})
	table.AddRow([]string{"sla-123456", "active"})
	table.AddRow([]string{"x", "breached"})

	var buf bytes.Buffer
	table.RenderTo(&buf)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "ID          STATUS    ", lines[0])
	assert.Equal(t, "----------  --------  ", lines[1])
	assert.Equal(t, "x           breached  ", lines[3])
	assert.Equal(t, 2, table.Len())
}

func TestColoredCellsKeepAlignment(t *testing.T) {
	colored := color.New(color.FgRed).Sprint("breached")
	assert.Equal(t, len("breached"), visibleLen(colored))
	assert.Equal(t, len("breached")+2, visibleLen(pad(colored, 10)))
}

func TestFormatRemaining(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{2*time.Hour + 5*time.Minute, "2h05m"},
		{59*time.Minute + 30*time.Second, "59m30s"},
		{1500 * time.Millisecond, "0m01s"},
		{-90 * time.Second, "-1m30s"},
		{0, "0m00s"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FormatRemaining(c.in), c.in.String())
	}
}

func TestSLATable(t *testing.T) {
	withoutColor(t)

	deadline := time.Date(2024, 5, 6, 11, 0, 0, 0, time.UTC)
	table := SLATable([]sla.Snapshot{
		{Instance: &sla.Instance{ID: "a", TaskID: "task-1", DefinitionID: "d", Status: sla.StatusActive}, EffectiveDeadline: deadline, Remaining: time.Hour},
		{Instance: &sla.Instance{ID: "b", TaskID: "task-1", DefinitionID: "d", Status: sla.StatusResolved}, EffectiveDeadline: deadline},
	})

	var buf bytes.Buffer
	table.RenderTo(&buf)
	out := buf.String()
	assert.Contains(t, out, "1h00m")
	assert.Contains(t, out, "resolved")
	assert.Equal(t, "-", FormatTime(nil))
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, map[string]int{"breached": 2}))
	assert.Equal(t, "{\n  \"breached\": 2\n}\n", buf.String())
}
