package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
	"github.com/mattjoyce/arbor/internal/app"
	"github.com/mattjoyce/arbor/internal/log"
	"github.com/mattjoyce/arbor/internal/part"
	"github.com/mattjoyce/arbor/internal/plugin"
)

type pluginRow struct {
	Name         string   `json:"name"`
	Enabled      bool     `json:"enabled"`
	Source       string   `json:"source"`
	Dependencies []string `json:"dependencies,omitempty"`
	Description  string   `json:"description,omitempty"`
}

func (c *cli) runPluginList(args []string) int {
	fs, configPath := c.newFlagSet("list")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return flagExit(err)
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(c.stderr, "Load error: %v\n", err)
		return 1
	}
	reg, err := app.NewRegistry(cfg, log.Discard())
	if err != nil {
		fmt.Fprintf(c.stderr, "Plugin discovery error: %v\n", err)
		return 1
	}

	all := reg.All()
	rows := make([]pluginRow, 0, len(all))
	for _, name := range reg.Names() {
		d := all[name]
		rows = append(rows, pluginRow{
			Name:         name,
			Enabled:      cfg.Plugins[name].Enabled,
			Source:       reg.Source(name),
			Dependencies: d.Dependencies,
			Description:  d.Description,
		})
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Fprintln(c.stdout, string(data))
		return 0
	}
	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENABLED\tSOURCE\tDEPENDS ON")
	for _, r := range rows {
		deps := strings.Join(r.Dependencies, ",")
		if deps == "" {
			deps = "-"
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", r.Name, r.Enabled, r.Source, deps)
	}
	_ = tw.Flush()
	return 0
}

func (c *cli) runPluginOrder(args []string) int {
	fs, configPath := c.newFlagSet("order")
	if err := fs.Parse(args); err != nil {
		return flagExit(err)
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(c.stderr, "Load error: %v\n", err)
		return 1
	}
	reg, err := app.NewRegistry(cfg, log.Discard())
	if err != nil {
		fmt.Fprintf(c.stderr, "Plugin discovery error: %v\n", err)
		return 1
	}
	descs, err := reg.Subset(cfg.EnabledPluginNames())
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	order, err := plugin.Resolve(descs)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	for i, name := range order {
		fmt.Fprintf(c.stdout, "%2d. %s\n", i+1, name)
	}
	return 0
}

// runTreeShow loads plugins against throwaway state so bound handlers and
// listener counts reflect a real start.
func (c *cli) runTreeShow(args []string) int {
	fs, configPath := c.newFlagSet("show")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return flagExit(err)
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(c.stderr, "Load error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log.Discard(), app.Options{StatePath: ":memory:"})
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = a.Close(ctx) }()
	if err := a.Load(ctx); err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}

	desc := a.Tree.Describe()
	if *jsonOut {
		data, _ := json.MarshalIndent(desc, "", "  ")
		fmt.Fprintln(c.stdout, string(data))
		return 0
	}
	fmt.Fprintln(c.stdout, renderTree(desc).String())
	return 0
}

var (
	kindStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	unboundStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
)

func renderTree(n *part.Node) *tree.Tree {
	t := tree.Root(nodeLabel(n)).Enumerator(tree.RoundedEnumerator)
	for _, child := range n.Children {
		if len(child.Children) == 0 {
			t.Child(nodeLabel(child))
			continue
		}
		t.Child(renderTree(child))
	}
	return t
}

func nodeLabel(n *part.Node) string {
	label := n.Name + " " + kindStyle.Render("["+n.Kind+"]")
	switch {
	case n.Kind == "action" && !n.Bound:
		label += " " + unboundStyle.Render(n.Handler+" (unbound)")
	case n.Kind == "action":
		label += " -> " + n.Handler
	case n.Listeners > 0:
		label += kindStyle.Render(fmt.Sprintf(" %d listener(s)", n.Listeners))
	}
	return label
}
