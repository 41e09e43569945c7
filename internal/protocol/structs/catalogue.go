package structs

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/protocol/pdu"
)

// DefaultPath is where the process catalogue looks for its schema file.
const DefaultPath = "/etc/edgeipc/structs.bin"

// State is the catalogue load state.
type State int

const (
	StateNotLoaded State = iota
	StateLoading
	StateLoaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotLoaded:
		return "not_loaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Load outcomes reported through Options.OnLoad.
const (
	OutcomeLoaded    = "loaded"
	OutcomeFatal     = "fatal"
	OutcomeTransient = "transient"
)

type Options struct {
	// Path of the primary schema file. Empty means no primary file.
	Path   string
	Logger zerolog.Logger
	// OnLoad observes every load attempt, primary or supplementary.
	OnLoad func(outcome string, structs int)
}

// Catalogue is a registry of struct schemas keyed by name. Lookups take the read lock; loads,
// merges and teardown take the write lock. One reference counter covers every schema in the
// catalogue.
type Catalogue struct {
	mu     sync.RWMutex
	loadMu sync.Mutex
	opts   Options
	log    zerolog.Logger

	state     State
	err       error
	structs   map[string]*Schema
	namespace string
	// supplementary files merged by LoadFile, replayed after the primary load following Clear
	extra []string

	refs atomic.Int64
}

func NewCatalogue(opts Options) *Catalogue {
	return &Catalogue{
		opts:    opts,
		log:     opts.Logger.With().Str("component", "structs").Logger(),
		structs: make(map[string]*Schema),
	}
}

var (
	defaultMu  sync.Mutex
	defaultCat *Catalogue
)

// Default returns the process catalogue, creating it over DefaultPath on first use.
func Default() *Catalogue {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultCat == nil {
		defaultCat = NewCatalogue(Options{Path: DefaultPath, Logger: zerolog.Nop()})
	}
	return defaultCat
}

// SetDefault replaces the process catalogue. Passing nil restores lazy creation.
func SetDefault(c *Catalogue) {
	defaultMu.Lock()
	defaultCat = c
	defaultMu.Unlock()
}

// currentDefault returns the process catalogue without creating it.
func currentDefault() *Catalogue {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultCat
}

func (c *Catalogue) Path() string { return c.opts.Path }

func (c *Catalogue) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the cached outcome of the last completed primary load.
func (c *Catalogue) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Catalogue) Namespace() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.namespace
}

func (c *Catalogue) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.structs)
}

// Names returns the registered struct names in sorted order.
func (c *Catalogue) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.structs))
	for name := range c.structs {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Refs reports outstanding references across all schemas in the catalogue.
func (c *Catalogue) Refs() int64 { return c.refs.Load() }

// Load runs the primary load once. A loaded or fatally failed catalogue returns its cached
// outcome; a transient failure leaves the catalogue unloaded so the next call retries. After a
// Clear, supplementary files merged earlier are merged again once the primary file is in.
func (c *Catalogue) Load() error {
	c.mu.RLock()
	state, err := c.state, c.err
	c.mu.RUnlock()
	if state == StateLoaded || state == StateFailed {
		return err
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	c.mu.Lock()
	if c.state == StateLoaded || c.state == StateFailed {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.state = StateLoading
	c.mu.Unlock()

	if c.opts.Path == "" {
		c.mu.Lock()
		c.state = StateLoaded
		extra := append([]string(nil), c.extra...)
		c.mu.Unlock()
		c.replay(extra)
		return nil
	}

	staged, ns, err := c.stage(c.opts.Path)
	extra, err := c.commitPrimary(staged, ns, err)
	if err != nil {
		return err
	}
	c.replay(extra)
	return nil
}

// replay merges supplementary files recorded before a Clear. Callers hold loadMu.
func (c *Catalogue) replay(paths []string) {
	for _, path := range paths {
		if err := c.mergeFile(path); err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("supplementary structs not restored")
		}
	}
}

// commitPrimary records the outcome of staging the primary file and returns the supplementary
// paths to merge again.
func (c *Catalogue) commitPrimary(staged []*Schema, ns string, err error) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if protocol.IsTransient(err) {
			c.state = StateNotLoaded
			c.err = nil
			c.log.Warn().Err(err).Str("path", c.opts.Path).Msg("struct catalogue load deferred")
			c.observe(OutcomeTransient, 0)
			return nil, err
		}
		c.state = StateFailed
		c.err = err
		c.log.Error().Err(err).Str("path", c.opts.Path).Str("kind", protocol.KindOf(err).String()).Msg("struct catalogue load failed")
		c.observe(OutcomeFatal, 0)
		return nil, err
	}
	if err := c.mergeLocked(staged); err != nil {
		c.state = StateFailed
		c.err = err
		c.observe(OutcomeFatal, 0)
		return nil, err
	}
	if c.namespace == "" {
		c.namespace = ns
	}
	c.state = StateLoaded
	c.err = nil
	c.log.Info().Str("path", c.opts.Path).Int("structs", len(staged)).Str("namespace", ns).Msg("struct catalogue loaded")
	c.observe(OutcomeLoaded, len(staged))
	return append([]string(nil), c.extra...), nil
}

// LoadFile merges a supplementary schema file. The file is validated in isolation and its
// names must not collide with any already registered; either every struct is added or none.
func (c *Catalogue) LoadFile(path string) error {
	if err := c.Load(); err != nil {
		return err
	}
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if err := c.mergeFile(path); err != nil {
		return err
	}
	c.mu.Lock()
	c.extra = append(c.extra, path)
	c.mu.Unlock()
	return nil
}

// mergeFile stages path and merges it. Callers hold loadMu.
func (c *Catalogue) mergeFile(path string) error {
	staged, _, err := c.stage(path)
	if err != nil {
		c.log.Error().Err(err).Str("path", path).Msg("supplementary struct load failed")
		if protocol.IsTransient(err) {
			c.observe(OutcomeTransient, 0)
		} else {
			c.observe(OutcomeFatal, 0)
		}
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.mergeLocked(staged); err != nil {
		c.observe(OutcomeFatal, 0)
		return err
	}
	c.log.Info().Str("path", path).Int("structs", len(staged)).Msg("supplementary structs loaded")
	c.observe(OutcomeLoaded, len(staged))
	return nil
}

func (c *Catalogue) observe(outcome string, n int) {
	if c.opts.OnLoad != nil {
		c.opts.OnLoad(outcome, n)
	}
}

// mergeLocked adds staged schemas after checking every name against this catalogue and, when
// one exists and is a different catalogue, the process catalogue. Callers hold the write lock.
func (c *Catalogue) mergeLocked(staged []*Schema) error {
	d := currentDefault()
	if d == c {
		d = nil
	}
	for _, s := range staged {
		if _, exists := c.structs[s.name]; exists {
			return fmt.Errorf("%w: struct %q is already registered", protocol.ErrInvalidArgument, s.name)
		}
		if d != nil && d.registered(s.name) {
			return fmt.Errorf("%w: struct %q is already registered in the process catalogue", protocol.ErrInvalidArgument, s.name)
		}
	}
	for _, s := range staged {
		c.structs[s.name] = s
	}
	return nil
}

func (c *Catalogue) registered(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.structs[name]
	return ok
}

// stage reads and validates one schema file into schemas bound to c, without registering them.
func (c *Catalogue) stage(path string) ([]*Schema, string, error) {
	img, err := readImage(path)
	if err != nil {
		return nil, "", err
	}
	staged, err := c.build(img)
	if err != nil {
		return nil, "", fmt.Errorf("schema %s: %w", path, err)
	}
	return staged, img.namespace, nil
}

// build runs the struct pass in file order. Field references resolve only against structs
// earlier in the same pass.
func (c *Catalogue) build(img *fileImage) ([]*Schema, error) {
	pass := make(map[string]*Schema, len(img.structs))
	staged := make([]*Schema, 0, len(img.structs))
	nfields := uint64(len(img.fields))

	for i, rec := range img.structs {
		name, err := img.str(rec.NameOff)
		if err != nil {
			return nil, fmt.Errorf("struct %d name: %w", i, err)
		}
		if rec.FieldCount == 0 {
			return nil, fmt.Errorf("%w: struct %s has no fields", protocol.ErrProtocol, name)
		}
		if uint64(rec.FirstField)+uint64(rec.FieldCount) > nfields {
			return nil, fmt.Errorf("%w: struct %s fields [%d,+%d) overrun %d records", protocol.ErrProtocol, name, rec.FirstField, rec.FieldCount, nfields)
		}
		if rec.Size == 0 || rec.Size > MaxStructSize {
			return nil, fmt.Errorf("%w: struct %s size %d", protocol.ErrProtocol, name, rec.Size)
		}
		if rec.Align == 0 || rec.Align > MaxAlign || rec.Align&(rec.Align-1) != 0 {
			return nil, fmt.Errorf("%w: struct %s alignment %d", protocol.ErrProtocol, name, rec.Align)
		}
		if _, dup := pass[name]; dup {
			return nil, fmt.Errorf("%w: struct %s defined twice", protocol.ErrProtocol, name)
		}
		if c.registered(name) {
			return nil, fmt.Errorf("%w: struct %q is already registered", protocol.ErrInvalidArgument, name)
		}
		if _, err := pdu.ParseSignature(rec.Sig.String()); err != nil {
			return nil, fmt.Errorf("%w: struct %s signature", protocol.ErrProtocol, name)
		}

		s := &Schema{
			name:   name,
			size:   rec.Size,
			align:  rec.Align,
			sig:    rec.Sig,
			layout: make([]Field, rec.FieldCount),
			cat:    c,
			src:    img,
			index:  i,
		}
		var running uint64
		for j := range s.layout {
			fr := img.fields[rec.FirstField+uint32(j)]
			f, err := layoutField(img, pass, fr)
			if err != nil {
				return nil, fmt.Errorf("struct %s field %d: %w", name, j, err)
			}
			running = alignUp(running, uint64(f.Align))
			f.Offset = uint32(running)
			running += uint64(f.Count()) * uint64(f.Size)
			if running > MaxStructSize {
				return nil, fmt.Errorf("%w: struct %s grows past %d bytes", protocol.ErrProtocol, name, MaxStructSize)
			}
			s.layout[j] = f
		}
		if total := alignUp(running, uint64(rec.Align)); total != uint64(rec.Size) {
			return nil, fmt.Errorf("%w: struct %s declares %d bytes, layout needs %d", protocol.ErrProtocol, name, rec.Size, total)
		}
		s.ops = pdu.InstallStructOperations(s)
		pass[name] = s
		staged = append(staged, s)
	}
	return staged, nil
}

func layoutField(img *fileImage, pass map[string]*Schema, fr fieldRecord) (Field, error) {
	f := Field{ArrayLen: fr.ArrayLen}
	if fr.TypeCode&FieldStructRef != 0 {
		ref, err := img.str(fr.TypeCode &^ FieldStructRef)
		if err != nil {
			return f, fmt.Errorf("struct reference: %w", err)
		}
		nested, ok := pass[ref]
		if !ok {
			return f, fmt.Errorf("%w: reference to %s, which is not defined earlier in the file", protocol.ErrProtocol, ref)
		}
		f.Type = pdu.TypeStruct
		f.Struct = nested
		f.Size = nested.size
		f.Align = nested.align
		return f, nil
	}
	if fr.TypeCode > 0xff {
		return f, fmt.Errorf("%w: type code 0x%x", protocol.ErrProtocol, fr.TypeCode)
	}
	t := pdu.Type(fr.TypeCode)
	if !t.Primitive() {
		return f, fmt.Errorf("%w: %s cannot be a struct field", protocol.ErrProtocol, t)
	}
	f.Type = t
	f.Size = t.FixedSize()
	f.Align = t.Align()
	return f, nil
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// Lookup finds a schema by name, triggering the primary load on a miss.
func (c *Catalogue) Lookup(name string) (*Schema, error) {
	if name == "" || len(name) > pdu.MaxStructNameLen {
		return nil, fmt.Errorf("%w: struct name length %d", protocol.ErrInvalidArgument, len(name))
	}
	if s := c.get(name); s != nil {
		return s, nil
	}
	if err := c.Load(); err != nil {
		return nil, fmt.Errorf("%w: %q (catalogue: %v)", protocol.ErrUnknownStruct, name, err)
	}
	if s := c.get(name); s != nil {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q", protocol.ErrUnknownStruct, name)
}

func (c *Catalogue) get(name string) *Schema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.structs[name]
}

// Resolve looks name up and checks that the caller's view of the layout matches exactly.
func (c *Catalogue) Resolve(name string, size, align uint32, sig pdu.Signature) (*Schema, error) {
	s, err := c.Lookup(name)
	if err != nil {
		return nil, err
	}
	if err := s.Check(size, align, sig); err != nil {
		return nil, err
	}
	return s, nil
}

// Check compares the caller's size, alignment and signature with the loaded layout.
func (s *Schema) Check(size, align uint32, sig pdu.Signature) error {
	switch {
	case size != s.size:
		return fmt.Errorf("%w: struct %s is %d bytes, caller expects %d", protocol.ErrSchemaMismatch, s.name, s.size, size)
	case align != s.align:
		return fmt.Errorf("%w: struct %s aligns to %d, caller expects %d", protocol.ErrSchemaMismatch, s.name, s.align, align)
	case sig != s.sig:
		return fmt.Errorf("%w: struct %s signature differs", protocol.ErrSchemaMismatch, s.name)
	}
	return nil
}

// Clear drops every schema and returns the catalogue to the unloaded state. It never blocks:
// a held lock or outstanding references yield ErrBusy. Supplementary files stay recorded and
// are merged again by the next Load.
func (c *Catalogue) Clear() error {
	if !c.mu.TryLock() {
		return fmt.Errorf("%w: catalogue locked", protocol.ErrBusy)
	}
	defer c.mu.Unlock()
	if n := c.refs.Load(); n != 0 {
		return fmt.Errorf("%w: %d references outstanding", protocol.ErrBusy, n)
	}
	c.structs = make(map[string]*Schema)
	c.namespace = ""
	c.state = StateNotLoaded
	c.err = nil
	c.log.Debug().Msg("struct catalogue cleared")
	return nil
}

// BeforeFork holds the write lock across a fork so the child never inherits it mid-update.
func (c *Catalogue) BeforeFork() { c.mu.Lock() }

func (c *Catalogue) AfterForkParent() { c.mu.Unlock() }

// AfterForkChild gives the child a fresh lock. Schemas loaded before the fork stay valid.
func (c *Catalogue) AfterForkChild() { c.mu = sync.RWMutex{} }
