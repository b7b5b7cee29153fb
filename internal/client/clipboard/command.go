package clipboard

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// clipboardTool describes one external clipboard utility.
type clipboardTool struct {
	name        string
	readArgs    func(target string) []string
	writeArgs   func(target string) []string
	targetsArgs []string
}

// Supported tools in order of preference. wl-clipboard covers Wayland,
// xclip covers X11.
var clipboardTools = []clipboardTool{
	{
		name:        "wl-paste",
		readArgs:    func(target string) []string { return []string{"--no-newline", "--type", target} },
		writeArgs:   func(target string) []string { return []string{"--type", target} },
		targetsArgs: []string{"--list-types"},
	},
	{
		name:        "xclip",
		readArgs:    func(target string) []string { return []string{"-out", "-selection", "clipboard", "-t", target} },
		writeArgs:   func(target string) []string { return []string{"-in", "-selection", "clipboard", "-t", target} },
		targetsArgs: []string{"-out", "-selection", "clipboard", "-t", "TARGETS"},
	},
}

// CommandClipboard implements Clipboard by shelling out to the first
// available tool.
type CommandClipboard struct {
	tool      clipboardTool
	writeName string // wl-copy pairs with wl-paste
}

// NewCommandClipboard probes for a clipboard tool. Returns an error when no
// display-server utility is installed (a fatal condition for the agent).
func NewCommandClipboard() (*CommandClipboard, error) {
	for _, tool := range clipboardTools {
		if _, err := exec.LookPath(tool.name); err != nil {
			continue
		}
		c := &CommandClipboard{tool: tool, writeName: tool.name}
		if tool.name == "wl-paste" {
			if _, err := exec.LookPath("wl-copy"); err != nil {
				return nil, fmt.Errorf("wl-paste found but wl-copy missing")
			}
			c.writeName = "wl-copy"
		}
		return c, nil
	}
	return nil, fmt.Errorf("no clipboard tool found (install wl-clipboard or xclip)")
}

func (c *CommandClipboard) Targets(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, c.tool.name, c.tool.targetsArgs...)
	out, err := cmd.Output()
	if err != nil {
		// empty clipboard reports exit 1 on both tools
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("list targets: %w", err)
	}

	var targets []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			targets = append(targets, line)
		}
	}
	return targets, nil
}

func (c *CommandClipboard) Read(ctx context.Context, target string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.tool.name, c.tool.readArgs(target)...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("read clipboard (%s): %w", target, err)
	}
	return out, nil
}

func (c *CommandClipboard) Write(ctx context.Context, target string, data []byte) error {
	cmd := exec.CommandContext(ctx, c.writeName, c.tool.writeArgs(target)...)
	cmd.Stdin = bytes.NewReader(data)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("write clipboard (%s): %w", target, err)
	}
	return nil
}

// Watch prefers clipnotify (blocks until the selection owner changes); when
// it is missing, e.g. on Wayland, it falls back to polling the paste stream.
func (c *CommandClipboard) Watch(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{})

	go func() {
		defer close(ch)
		if _, err := exec.LookPath("clipnotify"); err == nil {
			c.watchWithClipnotify(ctx, ch)
			return
		}
		c.watchWithPolling(ctx, ch)
	}()

	return ch
}

func (c *CommandClipboard) watchWithClipnotify(ctx context.Context, ch chan<- struct{}) {
	for ctx.Err() == nil {
		if err := exec.CommandContext(ctx, "clipnotify").Run(); err != nil {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(time.Second)
			continue
		}
		select {
		case ch <- struct{}{}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *CommandClipboard) watchWithPolling(ctx context.Context, ch chan<- struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case ch <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}
}
