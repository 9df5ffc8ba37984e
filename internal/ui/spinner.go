package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner draws a single-line loading indicator while a blocking step runs.
type Spinner struct {
	frames   spinner.Spinner
	interval time.Duration

	mu      sync.Mutex
	message string
	done    chan struct{}
	stopped bool
}

func newSpinner(frames spinner.Spinner, interval time.Duration, message string) *Spinner {
	return &Spinner{
		frames:   frames,
		interval: interval,
		message:  message,
		done:     make(chan struct{}),
	}
}

// NewSpinner is for local work such as opening the camera.
func NewSpinner(message string) *Spinner {
	return newSpinner(spinner.Dot, 80*time.Millisecond, message)
}

// NewConnectionSpinner is for reaching the consultation service.
func NewConnectionSpinner(message string) *Spinner {
	return newSpinner(spinner.Globe, 180*time.Millisecond, message)
}

// NewWaitingSpinner is for waiting on the other party.
func NewWaitingSpinner(message string) *Spinner {
	return newSpinner(spinner.Points, 100*time.Millisecond, message)
}

func (s *Spinner) Start() *Spinner {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			s.mu.Lock()
			if s.stopped {
				s.mu.Unlock()
				return
			}
			frame := SpinnerStyle.Render(s.frames.Frames[i%len(s.frames.Frames)])
			fmt.Printf("\r\033[K%s %s", frame, s.message)
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
	return s
}

func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
	fmt.Print("\r\033[K")
}

func (s *Spinner) Success(message string) {
	s.Stop()
	PrintSuccess(message)
}

func (s *Spinner) Error(message string) {
	s.Stop()
	PrintError(message)
}

func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}
