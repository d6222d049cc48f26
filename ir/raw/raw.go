// Package raw holds the untyped PDF object graph as an arena of indirect
// objects keyed by ObjectRef.
package raw

import (
	"fmt"
	"sort"
)

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
}

// DocumentMetadata contains common PDF info fields.
type DocumentMetadata struct {
	Producer string
	Creator  string
	Title    string
	Author   string
	Subject  string
}

// Document is the root container for raw PDF objects.
type Document struct {
	Objects  map[ObjectRef]Object
	Trailer  *DictObj
	Version  string // e.g., "1.7"
	Metadata DocumentMetadata
}

// NewDocument returns an empty document with an empty trailer.
func NewDocument() *Document {
	return &Document{
		Objects: make(map[ObjectRef]Object),
		Trailer: Dict(),
	}
}

// Refs returns the IDs of all objects in ascending object-number order.
func (d *Document) Refs() []ObjectRef {
	refs := make([]ObjectRef, 0, len(d.Objects))
	for ref := range d.Objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Num != refs[j].Num {
			return refs[i].Num < refs[j].Num
		}
		return refs[i].Gen < refs[j].Gen
	})
	return refs
}

// Resolve follows references until a direct object is reached. Dangling
// references resolve to NullObj, as PDF requires.
func (d *Document) Resolve(obj Object) Object {
	for i := 0; i < 32; i++ {
		ref, ok := obj.(RefObj)
		if !ok {
			return obj
		}
		target, ok := d.Objects[ref.R]
		if !ok {
			return NullObj{}
		}
		obj = target
	}
	return NullObj{}
}

// Stream returns the stream stored under ref, if any.
func (d *Document) Stream(ref ObjectRef) (*StreamObj, bool) {
	s, ok := d.Objects[ref].(*StreamObj)
	return s, ok
}

// Add stores obj under the next free object number and returns its reference.
func (d *Document) Add(obj Object) ObjectRef {
	max := 0
	for ref := range d.Objects {
		if ref.Num > max {
			max = ref.Num
		}
	}
	ref := ObjectRef{Num: max + 1}
	d.Objects[ref] = obj
	return ref
}
