// Package toolchain describes the external media and transfer binaries the
// bot fronts, and builds command lines for them.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/sourcegraph/conc/iter"
)

// ErrUnknownTool is returned for a tool name that is not in the catalog.
var ErrUnknownTool = errors.New("unknown tool")

// versionTimeout bounds a single version check.
const versionTimeout = 5 * time.Second

// Tool is an external binary.
type Tool struct {
	Name        string
	Binary      string
	VersionArgs []string
	Description string
}

// Status is the result of probing one tool.
type Status struct {
	Tool      string `json:"tool"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Catalog is a set of tools keyed by name.
type Catalog struct {
	tools    map[string]Tool
	lookPath func(string) (string, error)
}

// New returns a catalog of the given tools.
func New(tools ...Tool) *Catalog {
	c := &Catalog{
		tools:    make(map[string]Tool, len(tools)),
		lookPath: exec.LookPath,
	}
	for _, t := range tools {
		if t.Binary == "" {
			t.Binary = t.Name
		}
		c.tools[t.Name] = t
	}
	return c
}

// Default returns the catalog of tools the bot ships commands for.
func Default() *Catalog {
	return New(
		Tool{Name: "ffmpeg", VersionArgs: []string{"-version"}, Description: "transcode and remux media"},
		Tool{Name: "ffprobe", VersionArgs: []string{"-version"}, Description: "inspect media streams"},
		Tool{Name: "mkvmerge", VersionArgs: []string{"--version"}, Description: "build Matroska files"},
		Tool{Name: "mkvextract", VersionArgs: []string{"--version"}, Description: "extract Matroska tracks"},
		Tool{Name: "mediainfo", VersionArgs: []string{"--Version"}, Description: "media technical metadata"},
		Tool{Name: "aria2c", VersionArgs: []string{"--version"}, Description: "multi-protocol downloader"},
		Tool{Name: "rclone", VersionArgs: []string{"version"}, Description: "sync files with cloud storage"},
		Tool{Name: "wget", VersionArgs: []string{"--version"}, Description: "plain HTTP downloads"},
	)
}

// Lookup returns the named tool.
func (c *Catalog) Lookup(name string) (Tool, bool) {
	t, ok := c.tools[name]
	return t, ok
}

// Tools returns every tool sorted by name.
func (c *Catalog) Tools() []Tool {
	tools := make([]Tool, 0, len(c.tools))
	for _, t := range c.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// CommandLine returns a command string that runs the named tool with args.
// Every argument is quoted so that splitting the result with shell-word
// rules yields exactly the binary followed by args.
func (c *Catalog) CommandLine(name string, args ...string) (string, error) {
	t, ok := c.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return shellquote.Join(append([]string{t.Binary}, args...)...), nil
}

// Health checks every tool concurrently and reports which are installed.
func (c *Catalog) Health(ctx context.Context) []Status {
	return iter.Map(c.Tools(), func(t *Tool) Status {
		return c.check(ctx, *t)
	})
}

func (c *Catalog) check(ctx context.Context, t Tool) Status {
	st := Status{Tool: t.Name}

	path, err := c.lookPath(t.Binary)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Path = path

	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, t.VersionArgs...).CombinedOutput()
	if err != nil {
		st.Error = fmt.Sprintf("%s not available: %v", t.Name, err)
		return st
	}
	st.Available = true
	st.Version = firstLine(string(output))
	return st
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			if len(line) > 120 {
				line = line[:120]
			}
			return line
		}
	}
	return ""
}
