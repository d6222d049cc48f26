package optimize

import (
	"errors"

	"github.com/wudi/pdfshrink/ir/raw"
)

// ErrMissingRoot is returned by Prune when the trailer has no /Root reference.
var ErrMissingRoot = errors.New("trailer has no Root")

// Prune deletes every object that cannot be reached from the trailer and
// returns how many were removed.
func Prune(doc *raw.Document) (int, error) {
	if doc.Trailer == nil {
		return 0, ErrMissingRoot
	}
	if _, ok := refValue(doc.Trailer, "Root"); !ok {
		return 0, ErrMissingRoot
	}

	// 1. Mark
	reachable := make(map[raw.ObjectRef]bool)
	markReachable(doc, doc.Trailer, reachable)

	// 2. Sweep
	removed := 0
	for ref := range doc.Objects {
		if !reachable[ref] {
			delete(doc.Objects, ref)
			removed++
		}
	}
	return removed, nil
}

func refValue(d *raw.DictObj, key string) (raw.ObjectRef, bool) {
	v, _ := d.Get(key)
	r, ok := v.(raw.RefObj)
	return r.R, ok
}

func markReachable(doc *raw.Document, obj raw.Object, reachable map[raw.ObjectRef]bool) {
	switch t := obj.(type) {
	case raw.RefObj:
		if reachable[t.R] {
			return
		}
		if target, ok := doc.Objects[t.R]; ok {
			reachable[t.R] = true
			markReachable(doc, target, reachable)
		}
	case *raw.ArrayObj:
		for _, item := range t.Items {
			markReachable(doc, item, reachable)
		}
	case *raw.DictObj:
		if t == nil {
			return
		}
		for _, v := range t.KV {
			markReachable(doc, v, reachable)
		}
	case *raw.StreamObj:
		markReachable(doc, t.Dict, reachable)
	}
}
