package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pion/webrtc/v4"
	"github.com/rehaani/mediconnect/internal/call"
)

// CallControls is what the call view can do to the running call.
type CallControls interface {
	ToggleMute() (bool, error)
	ToggleVideo() (bool, error)
	HangUp()
}

type callEventMsg call.Event

type eventsClosedMsg struct{}

type clockMsg time.Time

// CallModel is the live call screen.
type CallModel struct {
	controls CallControls
	events   <-chan call.Event
	spinner  spinner.Model

	role     call.Role
	state    call.State
	roomID   string
	roomLink string
	conn     webrtc.PeerConnectionState
	tracks   map[webrtc.RTPCodecType]bool
	muted    bool
	videoOff bool
	notice   string
	reason   call.Reason

	connectedAt time.Time
	now         time.Time

	landing  string
	quitting bool
}

// NewCallModel builds the view for a call that is already under way.
func NewCallModel(controls CallControls, events <-chan call.Event, role call.Role, state call.State) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = SpinnerStyle

	return &CallModel{
		controls: controls,
		events:   events,
		spinner:  s,
		role:     role,
		state:    state,
		tracks:   make(map[webrtc.RTPCodecType]bool),
		now:      time.Now(),
	}
}

// WithRoom sets the room shown in the header.
func (m *CallModel) WithRoom(id, link string) *CallModel {
	m.roomID, m.roomLink = id, link
	return m
}

// Landing is where the call asked to navigate once it finished.
func (m *CallModel) Landing() string {
	return m.landing
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent(), clock())
}

func clock() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return clockMsg(t)
	})
}

func (m *CallModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		e, ok := <-m.events
		if !ok {
			return eventsClosedMsg{}
		}
		return callEventMsg(e)
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case callEventMsg:
		if m.apply(call.Event(msg)) {
			m.quitting = true
			return m, tea.Quit
		}
		return m, m.waitForEvent()

	case eventsClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case clockMsg:
		m.now = time.Time(msg)
		return m, clock()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *CallModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "m":
		if muted, err := m.controls.ToggleMute(); err == nil {
			m.muted = muted
		}
	case "v":
		if off, err := m.controls.ToggleVideo(); err == nil {
			m.videoOff = off
		}
	case "q", "ctrl+c":
		// A second press leaves without waiting for the return delay.
		if m.state == call.StateEnded || m.state == call.StateIdle {
			m.quitting = true
			return m, tea.Quit
		}
		m.controls.HangUp()
	}
	return m, nil
}

// apply folds one call event into the view. It reports true when the view
// should close.
func (m *CallModel) apply(e call.Event) bool {
	switch e.Kind {
	case call.EventState:
		m.state = e.State
		if e.Reason != call.ReasonNone {
			m.reason = e.Reason
		}
	case call.EventRoom:
		m.roomID = e.RoomID
	case call.EventConnection:
		m.conn = e.Connection
		if e.Connection == webrtc.PeerConnectionStateConnected && m.connectedAt.IsZero() {
			m.connectedAt = time.Now()
		}
	case call.EventRemoteTrack:
		m.tracks[e.TrackKind] = true
	case call.EventError:
		m.notice = e.Message
	case call.EventNavigate:
		m.landing = e.Landing
		return true
	}
	return false
}

func (m *CallModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	title := fmt.Sprintf("%s MediConnect consultation", IconDoctor)
	b.WriteString(HeaderStyle.Render(title) + "\n")

	if m.roomID != "" {
		b.WriteString(fmt.Sprintf("%s Room %s", IconRoom, BoldStyle.Render(m.roomID)))
		if m.roomLink != "" {
			b.WriteString("  " + MutedStyle.Render(m.roomLink))
		}
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("%s %s\n\n", StatusStyle.Render(m.state.String()), m.statusLine()))

	b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		IconMic, toggleBadge(!m.muted, "mic on", "muted"),
		IconCamera, toggleBadge(!m.videoOff, "camera on", "camera off"),
	))
	b.WriteString(fmt.Sprintf("%s Remote: %s\n", IconPeer, m.remoteLine()))

	if m.notice != "" {
		b.WriteString("\n" + ErrorBoxStyle.Render(m.notice) + "\n")
	}

	b.WriteString(FooterStyle.Render("m mute • v video • q hang up"))
	return b.String()
}

func (m *CallModel) statusLine() string {
	switch m.state {
	case call.StateCreating:
		return m.spinner.View() + " Creating room"
	case call.StateLoading:
		return m.spinner.View() + " Preparing camera and connection"
	case call.StateActive:
		if m.conn == webrtc.PeerConnectionStateConnected {
			return fmt.Sprintf("%s Connected %s", IconConnect, formatDuration(m.now.Sub(m.connectedAt)))
		}
		if m.role == call.RoleOfferer {
			return m.spinner.View() + " Waiting for the patient to join"
		}
		return m.spinner.View() + " Connecting to the provider"
	case call.StateEnded:
		reason := string(m.reason)
		if reason == "" {
			reason = "call ended"
		}
		return fmt.Sprintf("%s %s, returning to the dashboard", IconHangUp, reason)
	default:
		return ""
	}
}

func (m *CallModel) remoteLine() string {
	if len(m.tracks) == 0 {
		return MutedStyle.Render("no media yet")
	}
	var kinds []string
	for _, k := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if m.tracks[k] {
			kinds = append(kinds, k.String())
		}
	}
	return SuccessStyle.Render(strings.Join(kinds, " + "))
}

func toggleBadge(on bool, onText, offText string) string {
	if on {
		return OnStyle.Render(onText)
	}
	return OffStyle.Render(offText)
}

// RunCallView shows the call screen until the call asks to navigate away
// or the user leaves an ended call. It returns the landing path, if any.
func RunCallView(m *CallModel) (string, error) {
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return "", fmt.Errorf("call view: %w", err)
	}
	return final.(*CallModel).Landing(), nil
}
