package dyld

import (
	"github.com/apex/log"
	"github.com/blacktop/relink/pkg/macho"
	"github.com/pkg/errors"
)

// ReexportClosure returns the image at path followed by every image it
// re-exports, directly or transitively, in breadth-first order. Each path is
// loaded once, so re-export cycles terminate.
func (f *File) ReexportClosure(path string) ([]*macho.Image, error) {
	var closure []*macho.Image

	visited := make(map[string]bool)
	queue := []string{path}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		img := f.Image(name)
		if img == nil {
			return nil, errors.Wrapf(ErrImageNotFound, "couldn't find %s", name)
		}
		if visited[img.Name] {
			continue
		}
		visited[img.Name] = true

		m, err := img.GetMachO()
		if err != nil {
			return nil, err
		}
		closure = append(closure, m)

		for _, re := range m.Reexports() {
			log.Debugf("%s re-exports %s", img.Name, re)
			queue = append(queue, re)
		}
	}

	return closure, nil
}
