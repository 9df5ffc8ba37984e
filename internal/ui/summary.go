package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rehaani/mediconnect/internal/call"
)

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		}).
		Render()
}

// CallSummaryView renders the table printed after a call.
func CallSummaryView(s call.Summary) string {
	status := IconSuccess + " " + string(s.Reason)
	if s.Err != nil {
		status = IconError + " " + call.UserMessage(s.Err)
	}
	if s.Reason == call.ReasonNone {
		status = s.State.String()
	}

	rows := [][]string{
		{"Room", orDash(s.RoomID)},
		{"Role", string(s.Role)},
		{"Result", status},
		{"Connected for", formatDuration(s.Duration())},
		{"Media received", fmt.Sprintf("%s in %d packets", formatBytes(s.Bytes), s.Packets)},
	}
	return renderTable([]string{"Call", ""}, rows)
}

func RenderCallSummary(s call.Summary) {
	fmt.Println(CallSummaryView(s))
}

// RoomInfo is the box shown to the provider once a consultation room exists.
type RoomInfo struct {
	RoomID   string
	RoomLink string
}

func NewRoomInfo(roomID, roomLink string) *RoomInfo {
	return &RoomInfo{RoomID: roomID, RoomLink: roomLink}
}

func (r *RoomInfo) View() string {
	content := fmt.Sprintf("%s Consultation room ready\n\n%s Room ID:    %s\n%s Room Link:  %s\n\n%s",
		IconDoctor,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
		MutedStyle.Render("Share the link or run: mediconnect join "+r.RoomID),
	)
	return SuccessBoxStyle.Render(content)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
