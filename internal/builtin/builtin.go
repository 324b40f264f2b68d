// Package builtin holds the plugins compiled into arbor.
package builtin

import (
	"strings"

	"github.com/mattjoyce/arbor/internal/part"
	"github.com/mattjoyce/arbor/internal/plugin"
)

const domain = "core"

// Register adds every builtin plugin to reg.
func Register(reg *plugin.Registry) error {
	for _, f := range []plugin.Factory{
		func() plugin.Plugin { return &Store{} },
		func() plugin.Plugin { return &Audit{} },
		func() plugin.Plugin { return &Metrics{} },
		func() plugin.Plugin { return &Echo{} },
	} {
		if err := reg.Register(f); err != nil {
			return err
		}
	}
	return nil
}

// resourcePath drops the root (the mount point) from a tree path.
func resourcePath(treePath string) string {
	_, rest, ok := strings.Cut(treePath, "/")
	if !ok {
		return treePath
	}
	return rest
}

// parentChain joins the ids of t's ancestors, outermost first.
func parentChain(t *part.Target) string {
	var ids []string
	for p := t.Parent; p != nil; p = p.Parent {
		ids = append([]string{p.ID}, ids...)
	}
	return strings.Join(ids, "/")
}
