package sleep

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SimulationMarker is appended, after a timestamp, for every simulated sleep.
const SimulationMarker = "SIMULATED SLEEP TRIGGERED"

// Simulator appends one timestamped marker line per simulated sleep to an
// append-only log file.
type Simulator struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

func NewSimulator(path string) *Simulator {
	if path == "" {
		path = "sleep_events.log"
	}
	return &Simulator{path: path, now: time.Now}
}

// Path returns the simulation log location.
func (s *Simulator) Path() string { return s.path }

// Record appends a marker line.
func (s *Simulator) Record() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create simulation log dir: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open simulation log: %w", err)
	}
	line := fmt.Sprintf("%s - %s\n", s.now().Format("2006-01-02 15:04:05"), SimulationMarker)
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("write simulation log: %w", err)
	}
	return f.Close()
}
