package optimize

import (
	"strings"

	"github.com/wudi/pdfshrink/filters"
	"github.com/wudi/pdfshrink/ir/raw"
)

// FilterKind classifies an image's filter chain by how its payload is recovered.
type FilterKind int

const (
	FilterNone FilterKind = iota
	// FilterDCT chains end in DCTDecode; the payload is JPEG data.
	FilterDCT
	// FilterFlate chains use only standard filters, FlateDecode among them.
	FilterFlate
	FilterStandard
	FilterUnsupported
)

func (k FilterKind) String() string {
	switch k {
	case FilterNone:
		return "none"
	case FilterDCT:
		return "dct"
	case FilterFlate:
		return "flate"
	case FilterStandard:
		return "standard"
	default:
		return "unsupported"
	}
}

var standardFilters = map[string]bool{
	"FlateDecode":     true,
	"LZWDecode":       true,
	"ASCII85Decode":   true,
	"ASCIIHexDecode":  true,
	"RunLengthDecode": true,
	"CCITTFaxDecode":  true,
}

// FilterChain is the classified Filter/DecodeParms pair of a stream.
type FilterChain struct {
	Kind   FilterKind
	Names  []string
	Params []*raw.DictObj
	// Unsupported names the first filter no decoder exists for.
	Unsupported string
}

func classifyFilters(names []string, params []*raw.DictObj) FilterChain {
	fc := FilterChain{Names: names, Params: params}
	if len(names) == 0 {
		fc.Kind = FilterNone
		return fc
	}
	last := len(names) - 1
	for i, name := range names {
		if i == last && name == "DCTDecode" {
			continue
		}
		if !standardFilters[name] {
			fc.Kind = FilterUnsupported
			fc.Unsupported = name
			return fc
		}
	}
	switch {
	case names[last] == "DCTDecode":
		fc.Kind = FilterDCT
	case fc.Contains("FlateDecode"):
		fc.Kind = FilterFlate
	default:
		fc.Kind = FilterStandard
	}
	return fc
}

// Contains reports whether name appears anywhere in the chain.
func (fc FilterChain) Contains(name string) bool {
	name = filters.CanonicalName(name)
	for _, n := range fc.Names {
		if n == name {
			return true
		}
	}
	return false
}

func (fc FilterChain) String() string {
	if len(fc.Names) == 0 {
		return "none"
	}
	return strings.Join(fc.Names, ",")
}

// ColorFamily is the closed set of colorspaces raw samples can be read in.
type ColorFamily int

const (
	ColorUnsupported ColorFamily = iota
	ColorRGB
	ColorGray
	ColorCMYK
)

// ColorSpace keeps the effective colorspace name next to its family.
type ColorSpace struct {
	Family ColorFamily
	Name   string
}

// ParseColorSpace maps a colorspace name onto its family. Matching ignores case.
func ParseColorSpace(name string) ColorSpace {
	cs := ColorSpace{Name: name}
	switch strings.ToLower(name) {
	case "devicergb", "rgb", "calrgb":
		cs.Family = ColorRGB
	case "devicegray", "gray", "g", "calgray":
		cs.Family = ColorGray
	case "devicecmyk", "cmyk":
		cs.Family = ColorCMYK
	}
	return cs
}

// Components is the number of samples per pixel, or 0 when unsupported.
func (c ColorSpace) Components() int {
	switch c.Family {
	case ColorRGB:
		return 3
	case ColorGray:
		return 1
	case ColorCMYK:
		return 4
	}
	return 0
}

func (c ColorSpace) String() string {
	if c.Name == "" {
		return "unknown"
	}
	return c.Name
}
