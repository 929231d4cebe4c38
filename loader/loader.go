// Package loader decodes the kernel image's embedded application
// table and serves ELF bytes to the rest of the kernel by name or
// index. Grounded on original_source/os/src/loader.rs for the
// _num_app-style table shape, generalized per spec.md's "kernel image
// layout" section to carry an _app_names block (name-based exec
// lookup) rather than loader.rs's fixed index-only slots.
package loader

import (
	"encoding/binary"
	"fmt"
)

// Image is one application's ELF bytes plus the name it is known by
// (empty if the kernel image carried no name table, in which case only
// index-based lookup is available).
type Image struct {
	Name  string
	Bytes []byte
}

// Registry holds every application image bundled into the kernel,
// available for the initial task and for the exec syscall.
type Registry struct {
	images []Image
	byName map[string]int
}

// NewRegistry builds an empty registry, populated via Parse or Add.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Add appends one named image, overwriting any prior entry with the
// same name.
func (r *Registry) Add(name string, bytes []byte) {
	idx := len(r.images)
	r.images = append(r.images, Image{Name: name, Bytes: bytes})
	if name != "" {
		r.byName[name] = idx
	}
}

// ByIndex returns the i'th bundled image.
func (r *Registry) ByIndex(i int) (Image, bool) {
	if i < 0 || i >= len(r.images) {
		return Image{}, false
	}
	return r.images[i], true
}

// ByName looks up an image by the name the build script recorded for
// it, used by the exec syscall.
func (r *Registry) ByName(name string) (Image, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return Image{}, false
	}
	return r.images[idx], true
}

// Len returns the number of bundled images.
func (r *Registry) Len() int { return len(r.images) }

// Parse decodes a kernel image blob laid out as: a little-endian
// uint64 app count, then count+1 little-endian uint64 offsets (the
// last being the end of the final app's bytes), then the concatenated
// app bytes, then (if present) a trailing block of NUL-terminated
// names, one per app, in order. A blob with no trailing name block
// yields images with empty Name fields (index-only lookup).
func Parse(blob []byte) (*Registry, error) {
	if len(blob) < 8 {
		return nil, fmt.Errorf("loader: image too short for app count")
	}
	numApps := binary.LittleEndian.Uint64(blob[0:8])
	offsetsStart := 8
	offsetsLen := int(numApps+1) * 8
	if offsetsStart+offsetsLen > len(blob) {
		return nil, fmt.Errorf("loader: image too short for %d app offsets", numApps)
	}
	offsets := make([]uint64, numApps+1)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint64(blob[offsetsStart+i*8:])
	}
	dataStart := offsetsStart + offsetsLen
	reg := NewRegistry()
	var names []string
	appsEnd := dataStart
	if numApps > 0 {
		appsEnd = dataStart + int(offsets[numApps]-offsets[0])
	}
	if appsEnd <= len(blob) {
		names = splitNames(blob[appsEnd:], int(numApps))
	}
	for i := uint64(0); i < numApps; i++ {
		start := dataStart + int(offsets[i]-offsets[0])
		end := dataStart + int(offsets[i+1]-offsets[0])
		if start < 0 || end > len(blob) || start > end {
			return nil, fmt.Errorf("loader: app %d has out-of-range offsets", i)
		}
		name := ""
		if int(i) < len(names) {
			name = names[i]
		}
		reg.Add(name, blob[start:end])
	}
	return reg, nil
}

func splitNames(block []byte, want int) []string {
	var names []string
	start := 0
	for i := 0; i < len(block) && len(names) < want; i++ {
		if block[i] == 0 {
			names = append(names, string(block[start:i]))
			start = i + 1
		}
	}
	return names
}
