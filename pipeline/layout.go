// Package pipeline implements the declarative PipelineLayout blueprint and
// its live Pipeline instances (spec sections 3.2, 3.3, 4.2). Dump uses
// github.com/xlab/treeprint (one of the rest-of-pack dependencies wired in
// per SPEC_FULL.md's domain-stack table) to render a layout's filter chain
// and named sub-layouts for debugging and tests, the same way a config
// dump would render a tree of nested structs.
package pipeline

import (
	"fmt"

	"github.com/xlab/treeprint"

	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
)

// OnStart is the closed union spec section 3.2 describes: either a literal
// list of events to input at Start, or a function producing events from
// the arguments Start was called with.
type OnStart struct {
	InitialEvents []event.Event
	InitialFunc   func(args any) []event.Event
}

// Layout is the immutable blueprint assembled by a PipelineDesigner and
// never mutated once traffic starts flowing through its instances.
type Layout struct {
	Name string

	Filters []filter.Prototype
	OnStart *OnStart
	OnEnd   func(value any)

	Named     map[string]*Layout
	Anonymous []*Layout
	Chain     []*Layout
}

// LayoutOption configures a Layout at construction time.
type LayoutOption func(*Layout)

// WithName sets the layout's name (used in Dump and worker logging scope).
func WithName(name string) LayoutOption {
	return func(l *Layout) { l.Name = name }
}

// WithOnStart attaches the on-start hook.
func WithOnStart(onStart *OnStart) LayoutOption {
	return func(l *Layout) { l.OnStart = onStart }
}

// WithOnEnd attaches the on-end hook.
func WithOnEnd(onEnd func(value any)) LayoutOption {
	return func(l *Layout) { l.OnEnd = onEnd }
}

// WithNamed registers a named sub-layout.
func WithNamed(name string, sub *Layout) LayoutOption {
	return func(l *Layout) {
		if l.Named == nil {
			l.Named = make(map[string]*Layout)
		}
		l.Named[name] = sub
	}
}

// WithAnonymous appends an anonymous sub-layout, referenced by index.
func WithAnonymous(sub *Layout) LayoutOption {
	return func(l *Layout) { l.Anonymous = append(l.Anonymous, sub) }
}

// WithChain appends a downstream module layout to the chain list,
// traversed by pipeNext.
func WithChain(next *Layout) LayoutOption {
	return func(l *Layout) { l.Chain = append(l.Chain, next) }
}

// NewLayout assembles an immutable Layout from an ordered filter chain and
// options. Filters is never mutated after return.
func NewLayout(filters []filter.Prototype, opts ...LayoutOption) *Layout {
	l := &Layout{Filters: filters}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Resolve looks up a named sub-layout, reporting false when none has that
// name; filters turn that into their Bind error when a symbolic reference
// does not exist — see filter.Filter.Bind and spec section 4.1.
func (l *Layout) Resolve(name string) (*Layout, bool) {
	sub, ok := l.Named[name]

	return sub, ok
}

// Dump renders the layout's filter chain and sub-layouts as a tree, for
// debugging and test assertions about shape.
func (l *Layout) Dump() string {
	tree := treeprint.New()
	l.addTo(tree)

	return tree.String()
}

func (l *Layout) addTo(tree treeprint.Tree) {
	name := l.Name
	if name == "" {
		name = "(anonymous)"
	}

	root := tree.AddBranch(name)
	for i, f := range l.Filters {
		root.AddNode(fmt.Sprintf("[%d] %T", i, f))
	}

	for name, sub := range l.Named {
		branch := root.AddBranch("to:" + name)
		sub.addTo(branch)
	}

	for i, sub := range l.Anonymous {
		branch := root.AddBranch(fmt.Sprintf("anon[%d]", i))
		sub.addTo(branch)
	}
}
