// Package dialect renders compiled programs in the encodings external tools
// consume. Every dialect is write-only: the native dialect is the only one
// vm.Load reads back.
package dialect

import (
	"slices"
	"sync"

	"github.com/chazu/ocp/vm"
	"github.com/cockroachdb/errors"
)

// ErrUnknownDialect is returned by Lookup for an unregistered name.
var ErrUnknownDialect = errors.New("unknown dialect")

// ErrUnencodable reports a program the dialect's layout cannot represent.
var ErrUnencodable = errors.New("program cannot be encoded in this dialect")

// Dialect serializes a program. Implementations hold no mutable state and
// may be used concurrently.
type Dialect interface {
	Name() string
	Encode(p *vm.Program) ([]byte, error)
}

// Default is the dialect used when none is named.
const Default = "native"

var (
	registryMu sync.RWMutex
	registry   = map[string]Dialect{}
)

func init() {
	Register(Native{})
	Register(Omega{})
	Register(Listing{})
	Register(CBOR{})
}

// Register makes d available under d.Name(), replacing any previous
// dialect of that name.
func Register(d Dialect) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Name()] = d
}

// Lookup returns the dialect registered under name. The empty name selects
// Default.
func Lookup(name string) (Dialect, error) {
	if name == "" {
		name = Default
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDialect, "%q (have %v)", name, namesLocked())
	}
	return d, nil
}

// Names returns the registered dialect names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Encode renders p in the named dialect.
func Encode(name string, p *vm.Program) ([]byte, error) {
	d, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return d.Encode(p)
}

// Extension returns the file extension conventionally used for output in
// the named dialect.
func Extension(name string) string {
	switch name {
	case "listing":
		return ".txt"
	case "cbor":
		return ".cbor"
	}
	return ".ocp"
}

// ---------------------------------------------------------------------------
// Native and listing
// ---------------------------------------------------------------------------

// Native is the loadable OCP layout written by vm.Save.
type Native struct{}

func (Native) Name() string { return "native" }

func (Native) Encode(p *vm.Program) ([]byte, error) {
	return p.MarshalBinary()
}

// Listing is the human-readable disassembly.
type Listing struct{}

func (Listing) Name() string { return "listing" }

func (Listing) Encode(p *vm.Program) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return []byte(vm.Disassemble(p)), nil
}
