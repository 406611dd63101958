package script

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/dop251/goja"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("script")

//go:embed prelude.js
var preludeSource string

var prelude = goja.MustCompile("prelude.js", preludeSource, true)

// DefaultGlobalName is the name of the flat API object.
const DefaultGlobalName = "LuaDB"

// Options configures a Host.
type Options struct {
	// GlobalName is the name of the flat API object ("" = DefaultGlobalName).
	GlobalName string
	// Output receives Dump output (nil = os.Stdout).
	Output io.Writer
}

// Host manages named runtimes bound to one store.
type Host struct {
	store    store.IStore
	opts     Options
	runtimes *xsync.MapOf[string, *Runtime]
}

// NewHost creates a host for s.
func NewHost(s store.IStore, opts Options) *Host {
	if opts.GlobalName == "" {
		opts.GlobalName = DefaultGlobalName
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Host{
		store:    s,
		opts:     opts,
		runtimes: xsync.NewMapOf[string, *Runtime](),
	}
}

// Runtime returns the runtime called name, creating it on first use.
func (h *Host) Runtime(name string) (*Runtime, error) {
	if rt, ok := h.runtimes.Load(name); ok {
		return rt, nil
	}
	rt, err := h.newRuntime(name)
	if err != nil {
		return nil, err
	}
	actual, loaded := h.runtimes.LoadOrStore(name, rt)
	if !loaded {
		log.Debugf("runtime %q created", name)
	}
	return actual, nil
}

// Remove drops the runtime called name.
func (h *Host) Remove(name string) {
	h.runtimes.Delete(name)
}

// Names returns the names of all runtimes, sorted.
func (h *Host) Names() []string {
	names := make([]string, 0, h.runtimes.Size())
	h.runtimes.Range(func(name string, _ *Runtime) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

func (h *Host) newRuntime(name string) (*Runtime, error) {
	vm := goja.New()
	b := &binding{vm: vm, store: h.store, out: h.opts.Output}
	api := b.object()
	if err := vm.Set(h.opts.GlobalName, api); err != nil {
		return nil, fmt.Errorf("cannot bind %s: %w", h.opts.GlobalName, err)
	}

	wrapper, err := vm.RunProgram(prelude)
	if err != nil {
		return nil, fmt.Errorf("cannot run prelude: %w", err)
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return nil, fmt.Errorf("prelude did not evaluate to a function")
	}
	dbObj, err := fn(goja.Undefined(), api)
	if err != nil {
		return nil, fmt.Errorf("cannot build DB object: %w", err)
	}
	if err := vm.Set("DB", dbObj); err != nil {
		return nil, fmt.Errorf("cannot bind DB: %w", err)
	}

	return &Runtime{name: name, vm: vm}, nil
}

// --------------------------------------------------------------------------
// Runtime
// --------------------------------------------------------------------------

// Runtime is one JavaScript runtime with the store API bound.
type Runtime struct {
	name string
	mu   sync.Mutex
	vm   *goja.Runtime
}

// Name returns the name of the runtime.
func (r *Runtime) Name() string { return r.name }

// RunString runs src and returns the exported completion value.
func (r *Runtime) RunString(ctx context.Context, src string) (any, error) {
	prg, err := goja.Compile(r.name, src, false)
	if err != nil {
		return nil, err
	}
	return r.RunProgram(ctx, prg)
}

// RunFile runs the script at path.
func (r *Runtime) RunFile(ctx context.Context, path string) (any, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	prg, err := goja.Compile(path, string(src), false)
	if err != nil {
		return nil, err
	}
	return r.RunProgram(ctx, prg)
}

// RunProgram runs a compiled program. The script is interrupted when ctx is done.
func (r *Runtime) RunProgram(ctx context.Context, prg *goja.Program) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	res, err := r.vm.RunProgram(prg)
	close(done)
	<-stopped
	r.vm.ClearInterrupt()
	if err != nil {
		return nil, err
	}
	return res.Export(), nil
}
