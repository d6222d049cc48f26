package filters

import "github.com/wudi/pdfshrink/ir/raw"

// ExtractFilters reads Filter and DecodeParms entries from a stream dictionary.
// The returned params slice is aligned with the names; missing entries are nil.
func ExtractFilters(dict *raw.DictObj) ([]string, []*raw.DictObj) {
	var names []string

	filterObj, ok := dict.Get("Filter")
	if !ok {
		return nil, nil
	}
	switch f := filterObj.(type) {
	case raw.NameObj:
		names = append(names, CanonicalName(f.Val))
	case *raw.ArrayObj:
		for _, item := range f.Items {
			if n, ok := item.(raw.NameObj); ok {
				names = append(names, CanonicalName(n.Val))
			}
		}
	}

	params := make([]*raw.DictObj, len(names))
	if pObj, ok := dict.Get("DecodeParms"); ok && len(names) > 0 {
		switch p := pObj.(type) {
		case *raw.DictObj:
			params[0] = p
		case *raw.ArrayObj:
			for i, item := range p.Items {
				if d, ok := item.(*raw.DictObj); ok && i < len(params) {
					params[i] = d
				}
			}
		}
	}
	return names, params
}

func intParam(params *raw.DictObj, key string, def int) int {
	if params == nil {
		return def
	}
	if v, ok := params.Int(key); ok {
		return int(v)
	}
	return def
}

func boolParam(params *raw.DictObj, key string, def bool) bool {
	if params == nil {
		return def
	}
	v, ok := params.Get(key)
	if !ok {
		return def
	}
	if b, ok := v.(raw.BoolObj); ok {
		return b.V
	}
	return def
}
