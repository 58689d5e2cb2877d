package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"meshnode/internal/meshnode/domain"
)

// fileStore keeps each state object in its own file under a per-type
// subdirectory, the layout a human can poke at with ls and cat.
type fileStore struct {
	root string
}

// OpenFile opens a plain-file state store rooted at dir.
func OpenFile(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &fileStore{root: dir}, nil
}

func (s *fileStore) path(objType domain.StateObjectType, id string) string {
	name := "_"
	if id != "" {
		name = id
	}
	return filepath.Join(s.root, objType.String(), name)
}

func (s *fileStore) Get(objType domain.StateObjectType, id string) ([]byte, error) {
	data, err := os.ReadFile(s.path(objType, id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state get %s/%s: %w", objType, id, err)
	}
	return data, nil
}

func (s *fileStore) Put(objType domain.StateObjectType, id string, data []byte) error {
	p := s.path(objType, id)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("state put %s/%s: %w", objType, id, err)
	}
	// write-then-rename so a crash never leaves a torn object
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, storeFileMode(objType)); err != nil {
		return fmt.Errorf("state put %s/%s: %w", objType, id, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("state put %s/%s: %w", objType, id, err)
	}
	return nil
}

func (s *fileStore) Delete(objType domain.StateObjectType, id string) error {
	err := os.Remove(s.path(objType, id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("state delete %s/%s: %w", objType, id, err)
	}
	return nil
}

func (s *fileStore) List(objType domain.StateObjectType) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, objType.String()))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state list %s: %w", objType, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		name := e.Name()
		if name == "_" {
			name = ""
		}
		ids = append(ids, name)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *fileStore) Close() error { return nil }

// storeFileMode keeps secrets out of group/other hands.
func storeFileMode(objType domain.StateObjectType) os.FileMode {
	if objType == domain.StateObjectIdentitySecret {
		return 0o600
	}
	return 0o644
}
