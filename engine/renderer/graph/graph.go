// Package graph records the operations of one compute dispatch (resource creation, uploads,
// compute passes and readbacks) and executes them in dependency order. A Builder owns every
// transient resource it creates and releases all of them when Execute returns.
package graph

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/device"
	"k8s.io/klog/v2"
)

// ErrAlreadyExecuted is returned when Execute is called on a builder more than once.
var ErrAlreadyExecuted = errors.New("graph: already executed")

// ErrForeignHandle is returned when a handle created by another builder is used.
var ErrForeignHandle = errors.New("graph: handle belongs to another builder")

var builderIDs atomic.Uint64

// Handle refers to a resource recorded on a Builder. Handles are only valid on the builder
// that created them.
type Handle struct {
	owner uint64
	index int
}

// Valid reports whether the handle was returned by a builder.
func (h Handle) Valid() bool {
	return h.owner != 0
}

// PassContext gives a running pass access to the device and to the allocated resources.
type PassContext struct {
	b *Builder
}

// Device returns the device the graph executes on.
func (c *PassContext) Device() device.Device {
	return c.b.dev
}

// Buffer resolves a buffer handle to its device buffer.
func (c *PassContext) Buffer(h Handle) (device.BufferID, error) {
	r, err := c.b.lookup(h, resourceBuffer)
	if err != nil {
		return 0, err
	}
	return r.buffer, nil
}

// Texture resolves a texture handle to its device texture.
func (c *PassContext) Texture(h Handle) (device.TextureID, error) {
	r, err := c.b.lookup(h, resourceTexture)
	if err != nil {
		return 0, err
	}
	return r.texture, nil
}

// Sampler resolves a sampler handle to its device sampler.
func (c *PassContext) Sampler(h Handle) (device.SamplerID, error) {
	r, err := c.b.lookup(h, resourceSampler)
	if err != nil {
		return 0, err
	}
	return r.sampler, nil
}

// PassFunc is the body of a pass.
type PassFunc func(ctx *PassContext) error

type pass struct {
	name     string
	reads    []Handle
	writes   []Handle
	readback bool
	run      PassFunc
}

// Builder records the resources and passes of a single dispatch. It is not safe for
// concurrent use and must be driven from the execution thread.
type Builder struct {
	id        uint64
	dev       device.Device
	label     string
	resources []*resource
	passes    []*pass
	executed  bool
	ran       []string
	err       error
}

// NewBuilder creates an empty builder for one dispatch on dev.
//
// Parameters:
//   - dev: the device the graph will execute on
//   - label: the prefix of every resource label, used in logs
//
// Returns:
//   - *Builder: the new builder
func NewBuilder(dev device.Device, label string) *Builder {
	if dev == nil {
		panic("graph: NewBuilder requires a device")
	}
	return &Builder{id: builderIDs.Add(1), dev: dev, label: label}
}

// Err returns the first recording error, if any. Execute returns the same error.
func (b *Builder) Err() error {
	return b.err
}

// ExecutedPasses returns the names of the passes run by Execute, in execution order.
func (b *Builder) ExecutedPasses() []string {
	return append([]string(nil), b.ran...)
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// AddPass records a pass that reads and writes the given resources. The pass runs after
// every earlier pass it conflicts with.
//
// Parameters:
//   - name: the pass name, used in logs and errors
//   - reads: resources the pass reads
//   - writes: resources the pass writes
//   - run: the pass body
func (b *Builder) AddPass(name string, reads, writes []Handle, run PassFunc) {
	b.addPass(&pass{name: name, reads: reads, writes: writes, run: run})
}

func (b *Builder) addPass(p *pass) {
	if b.executed {
		b.fail(fmt.Errorf("graph %s: pass %s recorded after execute: %w", b.label, p.name, ErrAlreadyExecuted))
		return
	}
	for _, h := range append(append([]Handle(nil), p.reads...), p.writes...) {
		if _, err := b.resource(h); err != nil {
			b.fail(fmt.Errorf("graph %s: pass %s: %w", b.label, p.name, err))
			return
		}
	}
	b.passes = append(b.passes, p)
}

// Execute allocates every recorded resource, uploads initial data, runs the passes in
// dependency order and releases every transient resource. If any allocation or upload
// fails no pass runs. The first pass error stops execution.
//
// Returns:
//   - error: the first recording, ordering, allocation or pass error
func (b *Builder) Execute() error {
	if b.executed {
		return ErrAlreadyExecuted
	}
	b.executed = true
	if b.err != nil {
		return b.err
	}

	order, err := b.order()
	if err != nil {
		return err
	}
	defer b.release()

	if err := b.allocate(); err != nil {
		return err
	}

	logger := klog.Background().WithValues("graph", b.label)
	ctx := &PassContext{b: b}
	for _, i := range order {
		p := b.passes[i]
		if err := p.run(ctx); err != nil {
			return fmt.Errorf("graph %s: pass %s: %w", b.label, p.name, err)
		}
		b.ran = append(b.ran, p.name)
		logger.V(4).Info("Pass executed", "pass", p.name)
	}
	return nil
}

// order derives the execution order of the passes. Readback passes run after every
// writer of their source. Other passes follow record order wherever they conflict on a
// resource (read after write, write after read, write after write).
func (b *Builder) order() ([]int, error) {
	deps := make([][]int, len(b.passes))
	for j, pj := range b.passes {
		for i, pi := range b.passes {
			if i == j {
				continue
			}
			if pj.readback && !pi.readback && anyShared(pi.writes, pj.reads) {
				deps[j] = append(deps[j], i)
				continue
			}
			if pi.readback && !pj.readback {
				if i < j && (anyShared(pi.writes, pj.reads) || anyShared(pi.writes, pj.writes)) {
					deps[j] = append(deps[j], i)
				}
				continue
			}
			if i < j && conflicts(pi, pj) {
				deps[j] = append(deps[j], i)
			}
		}
	}

	done := make([]bool, len(b.passes))
	order := make([]int, 0, len(b.passes))
	for {
		progress := false
		for j := range b.passes {
			if done[j] {
				continue
			}
			ready := true
			for _, d := range deps[j] {
				if !done[d] {
					ready = false
					break
				}
			}
			if ready {
				done[j] = true
				order = append(order, j)
				progress = true
			}
		}
		if !progress {
			break
		}
	}
	if len(order) != len(b.passes) {
		for j, ok := range done {
			if !ok {
				return nil, fmt.Errorf("graph %s: pass %s is part of a dependency cycle", b.label, b.passes[j].name)
			}
		}
	}
	return order, nil
}

func conflicts(a, b *pass) bool {
	return anyShared(a.writes, b.reads) || anyShared(a.reads, b.writes) || anyShared(a.writes, b.writes)
}

func anyShared(a, b []Handle) bool {
	for _, h := range a {
		for _, g := range b {
			if h == g {
				return true
			}
		}
	}
	return false
}
