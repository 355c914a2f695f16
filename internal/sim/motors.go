package sim

import (
	"sync"

	"flightcore/internal/actuator"
)

// Motors records actuator commands in place of ESC hardware.
type Motors struct {
	mu     sync.Mutex
	last   actuator.Command
	writes uint64
}

func (m *Motors) SetOutput(cmd actuator.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = append(m.last[:0], cmd...)
	m.writes++
	return nil
}

// Last returns a copy of the most recent command.
func (m *Motors) Last() actuator.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(actuator.Command(nil), m.last...)
}

func (m *Motors) Writes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
