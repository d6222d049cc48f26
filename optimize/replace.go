package optimize

import "github.com/wudi/pdfshrink/ir/raw"

// staleImageKeys no longer describe a DCTDecode payload. Masks are dropped as
// well: the re-encoded image is opaque.
var staleImageKeys = []string{
	"DecodeParms", "FilterParms", "Length", "Predictor", "Columns",
	"Mask", "SMask", "Decode",
}

// ReplaceWithJPEG turns s into a minimal DeviceRGB JPEG image XObject.
// Length is left for the writer to recompute.
func ReplaceWithJPEG(s *raw.StreamObj, data []byte, width, height int) {
	if s.Dict == nil {
		s.Dict = raw.Dict()
	}
	d := s.Dict
	d.Set("Type", raw.NameLiteral("XObject"))
	d.Set("Subtype", raw.NameLiteral("Image"))
	d.Set("Filter", raw.NameLiteral("DCTDecode"))
	d.Set("ColorSpace", raw.NameLiteral("DeviceRGB"))
	d.Set("BitsPerComponent", raw.NumberInt(8))
	d.Set("Width", raw.NumberInt(int64(width)))
	d.Set("Height", raw.NumberInt(int64(height)))
	for _, key := range staleImageKeys {
		d.Delete(key)
	}
	s.Data = data
}
