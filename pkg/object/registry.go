// Package object associates names with handles of tasks and devices.
package object

import (
	"errors"
	"fmt"
	"sync"

	"github.com/emirpasic/gods/trees/avltree"
)

// Kind classifies registered objects. Names are unique per kind.
type Kind int

// Kinds of objects.
const (
	KindNone Kind = iota
	KindDevice
	KindTask
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindTask:
		return "task"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// NameMax is the maximum length of a name.
const NameMax = 12

var (
	// ErrInvalid indicates a bad name, kind or handle.
	ErrInvalid = errors.New("invalid object")
	// ErrExists indicates the name or handle is already registered.
	ErrExists = errors.New("object exists")
	// ErrNotFound indicates the handle is not registered.
	ErrNotFound = errors.New("object not found")
)

// Registry is the name to handle association consumed by tasks and devices.
type Registry interface {
	Add(handle interface{}, name string, kind Kind) error
	Find(name string, kind Kind) interface{}
	Remove(handle interface{}) error
}

// Container implements Registry with one AVL tree per kind.
// Handles must be comparable, pointers are expected.
type Container struct {
	lock    sync.RWMutex
	trees   map[Kind]*avltree.Tree
	handles map[interface{}]entry
}

type entry struct {
	name string
	kind Kind
}

// NewContainer creates an empty Container.
func NewContainer() *Container {
	return &Container{
		trees:   make(map[Kind]*avltree.Tree),
		handles: make(map[interface{}]entry),
	}
}

var defaultContainer = NewContainer()

// Default returns the process wide container.
func Default() *Container {
	return defaultContainer
}

// Add implements Registry.
func (c *Container) Add(handle interface{}, name string, kind Kind) error {
	if handle == nil || kind == KindNone || len(name) == 0 || len(name) > NameMax {
		return ErrInvalid
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, exists := c.handles[handle]; exists {
		return ErrExists
	}
	tree := c.trees[kind]
	if tree == nil {
		tree = avltree.NewWithStringComparator()
		c.trees[kind] = tree
	}
	if _, found := tree.Get(name); found {
		return ErrExists
	}
	tree.Put(name, handle)
	c.handles[handle] = entry{name: name, kind: kind}
	return nil
}

// Find implements Registry.
func (c *Container) Find(name string, kind Kind) interface{} {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if tree := c.trees[kind]; tree != nil {
		if handle, found := tree.Get(name); found {
			return handle
		}
	}
	return nil
}

// Remove implements Registry.
func (c *Container) Remove(handle interface{}) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	ent, ok := c.handles[handle]
	if !ok {
		return ErrNotFound
	}
	c.trees[ent.kind].Remove(ent.name)
	delete(c.handles, handle)
	return nil
}

// NameOf returns the registered name of handle.
func (c *Container) NameOf(handle interface{}) (string, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	ent, ok := c.handles[handle]
	return ent.name, ok
}

// List returns registered names of a kind in order.
func (c *Container) List(kind Kind) []string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	tree := c.trees[kind]
	if tree == nil {
		return nil
	}
	names := make([]string, 0, tree.Size())
	for _, key := range tree.Keys() {
		names = append(names, key.(string))
	}
	return names
}
