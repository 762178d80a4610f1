package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"aging.ai/internal/sim/aging"
)

// FSStore resolves portraits laid out as <root>/<identity>/<identity>_<bucket>.<ext>.
type FSStore struct {
	root string
	ext  string
}

func NewFSStore(root, ext string) *FSStore {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "png"
	}
	return &FSStore{root: root, ext: ext}
}

func (s *FSStore) Root() string { return s.root }

// Path returns where the portrait for identity at bucket would live.
func (s *FSStore) Path(identity string, bucket int) string {
	return filepath.Join(s.root, identity, fmt.Sprintf("%s.%s", aging.PortraitKey(identity, bucket), s.ext))
}

func (s *FSStore) Resolve(identity string, bucket int) (aging.AssetRef, bool, error) {
	if !validIdentity(identity) {
		return aging.AssetRef{}, false, fmt.Errorf("invalid identity %q", identity)
	}
	p := s.Path(identity, bucket)
	fi, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return aging.AssetRef{}, false, nil
		}
		return aging.AssetRef{}, false, err
	}
	if fi.IsDir() {
		return aging.AssetRef{}, false, nil
	}
	return aging.AssetRef{Key: aging.PortraitKey(identity, bucket), Path: p}, true, nil
}

// Buckets lists the milestone buckets that have a portrait for identity.
func (s *FSStore) Buckets(identity string) ([]int, error) {
	if !validIdentity(identity) {
		return nil, fmt.Errorf("invalid identity %q", identity)
	}
	ents, err := os.ReadDir(filepath.Join(s.root, identity))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	prefix := identity + "_"
	suffix := "." + s.ext
	var out []int
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
		bucket, err := strconv.Atoi(raw)
		// Only names that Path would produce count.
		if err != nil || strconv.Itoa(bucket) != raw {
			continue
		}
		if bucket < 0 || bucket%aging.BucketWidth != 0 {
			continue
		}
		out = append(out, bucket)
	}
	sort.Ints(out)
	return out, nil
}

// Identities come from host world data; keep them inside the asset root.
func validIdentity(identity string) bool {
	if identity == "" || identity == "." || identity == ".." {
		return false
	}
	return !strings.ContainsAny(identity, `/\`) && !strings.ContainsRune(identity, 0)
}
