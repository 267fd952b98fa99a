// Package sockets tracks listening sockets shared from the primary process to
// socket-sharing workers.
//
// The primary opens listeners and hands their descriptors to each
// socket-sharing child as inherited files starting at descriptor 3. The
// listener table travels in the environment so the child can map a
// network/address pair back to its descriptor. Every child then accepts on
// the same socket and the kernel balances connections between them.
package sockets

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
)

// EnvSockets carries the inherited listener table.
const EnvSockets = "PROCGROUP_SOCKETS"

// firstFD is the descriptor number of the first exec.Cmd ExtraFiles entry.
const firstFD = 3

// ErrNotShared is returned by a socket-sharing worker asking for a listener
// the primary never opened.
var ErrNotShared = errors.New("listener not shared by primary")

// Mode selects how Listen resolves a listener.
type Mode int

const (
	// Owner opens listeners and records them for inheritance.
	Owner Mode = iota
	// Inherited resolves listeners from descriptors passed by the primary.
	Inherited
	// Plain opens private listeners and shares nothing.
	Plain
)

func (m Mode) String() string {
	switch m {
	case Owner:
		return "owner"
	case Inherited:
		return "inherited"
	case Plain:
		return "plain"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

type filer interface {
	File() (*os.File, error)
}

// Set is a process's view of the shared listeners.
type Set struct {
	mode Mode

	mu        sync.Mutex
	keys      []string
	files     map[string]*os.File
	listeners map[string]net.Listener
	fds       map[string]uintptr
}

func newSet(mode Mode) *Set {
	return &Set{
		mode:      mode,
		files:     make(map[string]*os.File),
		listeners: make(map[string]net.Listener),
		fds:       make(map[string]uintptr),
	}
}

// NewOwner returns the set used by the primary.
func NewOwner() *Set { return newSet(Owner) }

// NewPlain returns the set used by isolated workers.
func NewPlain() *Set { return newSet(Plain) }

// Inherit decodes the listener table and maps entry i to descriptor 3+i.
func Inherit(table string) (*Set, error) {
	return inherit(table, func(i int) uintptr { return uintptr(firstFD + i) })
}

func inherit(table string, fdFor func(i int) uintptr) (*Set, error) {
	s := newSet(Inherited)
	keys, err := Decode(table)
	if err != nil {
		return nil, err
	}
	for i, key := range keys {
		s.keys = append(s.keys, key)
		s.fds[key] = fdFor(i)
	}
	return s, nil
}

// Key identifies a listener by network and address.
func Key(network, address string) string {
	return network + "/" + address
}

// SplitKey is the inverse of Key.
func SplitKey(key string) (network, address string, err error) {
	network, address, ok := strings.Cut(key, "/")
	if !ok || network == "" || address == "" {
		return "", "", fmt.Errorf("invalid listener key %q", key)
	}
	return network, address, nil
}

// Encode renders listener keys for EnvSockets.
func Encode(keys []string) string {
	parts := make([]string, len(keys))
	for i, key := range keys {
		parts[i] = url.QueryEscape(key)
	}
	return strings.Join(parts, ",")
}

// Decode parses an EnvSockets value.
func Decode(table string) ([]string, error) {
	if strings.TrimSpace(table) == "" {
		return nil, nil
	}
	parts := strings.Split(table, ",")
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		key, err := url.QueryUnescape(part)
		if err != nil {
			return nil, fmt.Errorf("decode %s entry %q: %w", EnvSockets, part, err)
		}
		if _, _, err := SplitKey(key); err != nil {
			return nil, fmt.Errorf("decode %s: %w", EnvSockets, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Mode reports how this set resolves listeners.
func (s *Set) Mode() Mode { return s.mode }

// Listen returns a listener for network/address. Repeated calls with the same
// pair return the same listener.
func (s *Set) Listen(network, address string) (net.Listener, error) {
	key := Key(network, address)

	s.mu.Lock()
	defer s.mu.Unlock()

	if ln, ok := s.listeners[key]; ok {
		return ln, nil
	}

	switch s.mode {
	case Inherited:
		fd, ok := s.fds[key]
		if !ok {
			return nil, fmt.Errorf("%s: %w", key, ErrNotShared)
		}
		f := os.NewFile(fd, key)
		if f == nil {
			return nil, fmt.Errorf("%s: invalid inherited descriptor %d", key, fd)
		}
		ln, err := net.FileListener(f)
		if err != nil {
			return nil, fmt.Errorf("inherit listener %s: %w", key, err)
		}
		s.files[key] = f
		s.listeners[key] = ln
		return ln, nil
	case Owner:
		ln, err := net.Listen(network, address)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", key, err)
		}
		fl, ok := ln.(filer)
		if !ok {
			_ = ln.Close()
			return nil, fmt.Errorf("listen %s: listener type %T cannot be shared", key, ln)
		}
		f, err := fl.File()
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("share listener %s: %w", key, err)
		}
		s.keys = append(s.keys, key)
		s.files[key] = f
		s.listeners[key] = ln
		return ln, nil
	default:
		ln, err := net.Listen(network, address)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", key, err)
		}
		s.listeners[key] = ln
		return ln, nil
	}
}

// Keys returns the shared listener keys in descriptor order.
func (s *Set) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

// Files returns one file per shared listener in descriptor order, suitable
// for exec.Cmd.ExtraFiles. Plain sets share nothing.
func (s *Set) Files() []*os.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == Plain {
		return nil
	}
	files := make([]*os.File, 0, len(s.keys))
	for _, key := range s.keys {
		f, ok := s.files[key]
		if !ok {
			f = os.NewFile(s.fds[key], key)
			s.files[key] = f
		}
		files = append(files, f)
	}
	return files
}

// Env returns the EnvSockets assignment describing Files.
func (s *Set) Env() string {
	return EnvSockets + "=" + Encode(s.Keys())
}

// Close closes every listener and descriptor held by the set.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for key, ln := range s.listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close listener %s: %w", key, err))
		}
		delete(s.listeners, key)
	}
	for key, f := range s.files {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("close descriptor %s: %w", key, err))
		}
		delete(s.files, key)
	}
	return errors.Join(errs...)
}
