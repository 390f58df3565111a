package surface

import (
	"strings"
	"sync"
)

// Container is an in-memory display area. Its content is either the error
// lines of a failed cycle or empty while a report is embedded.
type Container struct {
	id string

	mu    sync.RWMutex
	lines []string
}

// NewContainer creates an empty container.
func NewContainer(id string) *Container {
	return &Container{id: id}
}

func (c *Container) ID() string {
	return c.id
}

// SetText replaces the content with lines.
func (c *Container) SetText(lines []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append([]string(nil), lines...)
}

func (c *Container) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

// Lines returns a copy of the displayed lines.
func (c *Container) Lines() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.lines...)
}

// Text returns the content with one line per displayed line.
func (c *Container) Text() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return strings.Join(c.lines, "\n")
}
