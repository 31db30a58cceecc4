package zarr

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// MetaTyper is implemented by every document that lives under a reserved
// metadata key.
type MetaTyper interface {
	MetaType() MetaType
}

// GroupMeta marks a node as a hierarchical namespace. A group exists at a
// logical path if the ".zgroup" key exists under it; groups nest by path.
type GroupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

func (GroupMeta) MetaType() MetaType { return MTGroup }

// Attributes stores userland metadata for an array or group under its
// ".zattrs" key.
type Attributes map[string]interface{}

func (Attributes) MetaType() MetaType { return MTAttributes }

// Group is a handle on a hierarchical namespace node.
type Group struct {
	store Store
	path  Path
}

// CreateGroup writes a group marker at path, making the node (and any
// parent path segments, implicitly) addressable as a namespace.
func CreateGroup(ctx context.Context, store Store, path string) (*Group, error) {
	g := &Group{store: store, path: NewPath(path)}
	data, err := marshalMetaDocument(GroupMeta{ZarrFormat: Format})
	if err != nil {
		return nil, errors.Wrap(err, "encoding group metadata")
	}
	if err := store.Put(ctx, g.path.Join(string(MTGroup)).String(), data); err != nil {
		return nil, err
	}
	return g, nil
}

// OpenGroup opens an existing group, failing with ErrNotFound when no group
// marker is present and ErrCorruptMetadata when the marker is unreadable.
func OpenGroup(ctx context.Context, store Store, path string) (*Group, error) {
	g := &Group{store: store, path: NewPath(path)}
	key := g.path.Join(string(MTGroup)).String()
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var meta GroupMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrapf(ErrCorruptMetadata, "%s: %v", key, err)
	}
	return g, nil
}

// Path returns the group's location within its store.
func (g *Group) Path() string { return g.path.String() }

// CreateGroup creates a child group.
func (g *Group) CreateGroup(ctx context.Context, name string) (*Group, error) {
	return CreateGroup(ctx, g.store, g.path.Join(NewPath(name)...).String())
}

// CreateArray creates a child array.
func (g *Group) CreateArray(ctx context.Context, name string, mode PersistenceMode, m *ArrayMeta, opts ...ArrayOption) (*Array, error) {
	return Create(ctx, g.store, g.path.Join(NewPath(name)...).String(), mode, m, opts...)
}

// OpenArray opens a child array.
func (g *Group) OpenArray(ctx context.Context, name string, mode PersistenceMode, opts ...ArrayOption) (*Array, error) {
	return Open(ctx, g.store, g.path.Join(NewPath(name)...).String(), mode, opts...)
}

// Attrs reads the group's attributes. A missing attributes document reads
// as an empty set.
func (g *Group) Attrs(ctx context.Context) (Attributes, error) {
	return loadAttrs(ctx, g.store, g.path)
}

// SetAttrs replaces the group's attributes.
func (g *Group) SetAttrs(ctx context.Context, attrs Attributes) error {
	return saveAttrs(ctx, g.store, g.path, attrs)
}

// Children returns the names of immediate child arrays and groups.
func (g *Group) Children(ctx context.Context) (arrays, groups []string, err error) {
	prefix := g.path.String()
	if prefix != "" {
		prefix += "/"
	}
	keys, err := g.store.List(ctx, prefix)
	if err != nil {
		return nil, nil, err
	}
	arraySet := map[string]struct{}{}
	groupSet := map[string]struct{}{}
	for _, key := range keys {
		rel := strings.TrimPrefix(key, prefix)
		parts := strings.Split(rel, "/")
		if len(parts) != 2 {
			continue
		}
		switch MetaType(parts[1]) {
		case MTArray:
			arraySet[parts[0]] = struct{}{}
		case MTGroup:
			groupSet[parts[0]] = struct{}{}
		}
	}
	for name := range arraySet {
		arrays = append(arrays, name)
	}
	for name := range groupSet {
		groups = append(groups, name)
	}
	sort.Strings(arrays)
	sort.Strings(groups)
	return arrays, groups, nil
}

// Attrs reads the array's attributes.
func (a *Array) Attrs(ctx context.Context) (Attributes, error) {
	return loadAttrs(ctx, a.store, a.path)
}

// SetAttrs replaces the array's attributes.
func (a *Array) SetAttrs(ctx context.Context, attrs Attributes) error {
	if a.mode == ModeRead {
		return errors.Wrap(ErrReadOnly, a.path.String())
	}
	return saveAttrs(ctx, a.store, a.path, attrs)
}

func loadAttrs(ctx context.Context, store Store, path Path) (Attributes, error) {
	key := path.Join(string(MTAttributes)).String()
	data, err := store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Attributes{}, nil
		}
		return nil, err
	}
	attrs := Attributes{}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, errors.Wrapf(ErrCorruptMetadata, "%s: %v", key, err)
	}
	return attrs, nil
}

func saveAttrs(ctx context.Context, store Store, path Path, attrs Attributes) error {
	data, err := marshalMetaDocument(attrs)
	if err != nil {
		return errors.Wrap(err, "encoding attributes")
	}
	return store.Put(ctx, path.Join(string(MTAttributes)).String(), data)
}

// ConsolidatedMetadata gathers every metadata document under a root into a
// single ".zmetadata" document, so opening over slow storage costs one read
// instead of one per node.
type ConsolidatedMetadata struct {
	ConsolidatedFormat int                  `json:"zarr_consolidated_format"`
	Metadata           map[string]MetaTyper `json:"metadata"`
}

// consolidatedFormat is the ".zmetadata" document version this package
// reads and writes.
const consolidatedFormat = 1

type consolidatedMetaDecoder struct {
	ConsolidatedFormat int                        `json:"zarr_consolidated_format"`
	Metadata           map[string]json.RawMessage `json:"metadata"`
}

func (m *ConsolidatedMetadata) UnmarshalJSON(d []byte) error {
	cd := consolidatedMetaDecoder{}
	if err := json.Unmarshal(d, &cd); err != nil {
		return err
	}
	cm := ConsolidatedMetadata{
		ConsolidatedFormat: cd.ConsolidatedFormat,
		Metadata:           map[string]MetaTyper{},
	}

	for key, data := range cd.Metadata {
		kt, ok := KeyMetaType(key)
		if !ok {
			return errors.Wrapf(ErrCorruptMetadata, "invalid consolidated metadata key %q", key)
		}

		switch kt {
		case MTArray:
			arr := &ArrayMeta{}
			if err := json.Unmarshal(data, arr); err != nil {
				return errors.Wrapf(ErrCorruptMetadata, "reading %q: %v", key, err)
			}
			cm.Metadata[key] = arr
		case MTAttributes:
			attrs := Attributes{}
			if err := json.Unmarshal(data, &attrs); err != nil {
				return errors.Wrapf(ErrCorruptMetadata, "reading %q: %v", key, err)
			}
			cm.Metadata[key] = attrs
		case MTGroup:
			grp := GroupMeta{}
			if err := json.Unmarshal(data, &grp); err != nil {
				return errors.Wrapf(ErrCorruptMetadata, "reading %q: %v", key, err)
			}
			cm.Metadata[key] = grp
		}
	}

	*m = cm
	return nil
}

// Consolidate collects every metadata document under root and writes the
// combined document to root's ".zmetadata" key. Chunk entries are ignored.
func Consolidate(ctx context.Context, store Store, root string) (*ConsolidatedMetadata, error) {
	rootPath := NewPath(root)
	prefix := rootPath.String()
	if prefix != "" {
		prefix += "/"
	}
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	cm := &ConsolidatedMetadata{
		ConsolidatedFormat: consolidatedFormat,
		Metadata:           map[string]MetaTyper{},
	}
	for _, key := range keys {
		kt, ok := KeyMetaType(key)
		if !ok {
			continue
		}
		rel := strings.TrimPrefix(key, prefix)
		data, err := store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		switch kt {
		case MTArray:
			arr := &ArrayMeta{}
			if err := json.Unmarshal(data, arr); err != nil {
				return nil, errors.Wrapf(ErrCorruptMetadata, "%s: %v", key, err)
			}
			cm.Metadata[rel] = arr
		case MTAttributes:
			attrs := Attributes{}
			if err := json.Unmarshal(data, &attrs); err != nil {
				return nil, errors.Wrapf(ErrCorruptMetadata, "%s: %v", key, err)
			}
			cm.Metadata[rel] = attrs
		case MTGroup:
			grp := GroupMeta{}
			if err := json.Unmarshal(data, &grp); err != nil {
				return nil, errors.Wrapf(ErrCorruptMetadata, "%s: %v", key, err)
			}
			cm.Metadata[rel] = grp
		}
	}

	out, err := marshalMetaDocument(cm)
	if err != nil {
		return nil, errors.Wrap(err, "encoding consolidated metadata")
	}
	if err := store.Put(ctx, rootPath.Join(string(MTMetadata)).String(), out); err != nil {
		return nil, err
	}
	return cm, nil
}

// LoadConsolidated reads a previously consolidated metadata document.
func LoadConsolidated(ctx context.Context, store Store, root string) (*ConsolidatedMetadata, error) {
	key := NewPath(root).Join(string(MTMetadata)).String()
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	cm := &ConsolidatedMetadata{}
	if err := json.Unmarshal(data, cm); err != nil {
		return nil, errors.Wrapf(ErrCorruptMetadata, "%s: %v", key, err)
	}
	return cm, nil
}
