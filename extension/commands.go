package extension

import (
	"strings"

	"github.com/spf13/cobra"
)

// Commands collects console commands.
type Commands struct {
	cmds []*cobra.Command
}

// NewCommands returns an empty command set.
func NewCommands() *Commands {
	return &Commands{}
}

// Add registers commands.
func (c *Commands) Add(cmds ...*cobra.Command) {
	c.cmds = append(c.cmds, cmds...)
}

// All returns the commands, keeping the first of each name.
func (c *Commands) All() []*cobra.Command {
	seen := make(map[string]bool)
	var out []*cobra.Command
	for _, cmd := range c.cmds {
		if cmd == nil || seen[cmd.Name()] {
			continue
		}
		seen[cmd.Name()] = true
		out = append(out, cmd)
	}
	return out
}

// AttachTo adds every command whose name is not already taken on root and
// returns the number attached.
func (c *Commands) AttachTo(root *cobra.Command) int {
	taken := make(map[string]bool)
	for _, sub := range root.Commands() {
		taken[sub.Name()] = true
	}
	n := 0
	for _, cmd := range c.All() {
		if taken[cmd.Name()] {
			continue
		}
		root.AddCommand(cmd)
		n++
	}
	return n
}

func (c *Commands) String() string {
	var b strings.Builder
	for _, cmd := range c.All() {
		b.WriteString(cmd.Name())
		if cmd.Short != "" {
			b.WriteString("  " + cmd.Short)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
