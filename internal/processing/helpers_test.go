package processing

import (
	"errors"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
)

// memImages is an in-memory ImageStore.
type memImages struct {
	mu      sync.Mutex
	images  map[string]image.Image
	saveErr error
}

func newMemImages() *memImages {
	return &memImages{images: make(map[string]image.Image)}
}

func (m *memImages) put(ref string, w, h int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[ref] = imaging.New(w, h, color.NRGBA{R: 230, G: 225, B: 210, A: 255})
}

func (m *memImages) Open(ref string) (image.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[ref]
	if !ok {
		return nil, errors.New("no such image")
	}
	return img, nil
}

func (m *memImages) SaveOutput(name string, img image.Image) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return "", m.saveErr
	}
	ref := "/output/" + name
	m.images[ref] = img
	return ref, nil
}

func (m *memImages) get(ref string) image.Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.images[ref]
}

func modelIDs(items []Item) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ModelID)
	}
	return ids
}
