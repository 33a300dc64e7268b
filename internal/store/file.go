package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/misionbonos/bond-engine/internal/model"
)

const fileExt = ".json"

// FileStore implements SessionStore with one JSON document per game in a
// directory. Writes go to a temp file that is renamed over the old one, so
// a crash never leaves a half-written session.
type FileStore struct {
	dir string
	mu  sync.Mutex // serializes version check + rename
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(code string) string {
	return filepath.Join(s.dir, code+fileExt)
}

func (s *FileStore) Load(_ context.Context, code string) (*model.GameSession, error) {
	if err := ValidCode(code); err != nil {
		return nil, err
	}
	return s.read(code)
}

func (s *FileStore) read(code string) (*model.GameSession, error) {
	data, err := os.ReadFile(s.path(code))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", code, err)
	}
	var sess model.GameSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", code, err)
	}
	if sess.Teams == nil {
		sess.Teams = make(map[string]*model.Team)
	}
	return &sess, nil
}

func (s *FileStore) Save(_ context.Context, sess *model.GameSession) error {
	if err := ValidCode(sess.GameCode); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.GameCode, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.read(sess.GameCode)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := checkVersion(stored, sess); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, sess.GameCode+".*.tmp")
	if err != nil {
		return fmt.Errorf("write session %s: %w", sess.GameCode, err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session %s: %w", sess.GameCode, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync session %s: %w", sess.GameCode, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session %s: %w", sess.GameCode, err)
	}
	if err := os.Rename(tmp.Name(), s.path(sess.GameCode)); err != nil {
		return fmt.Errorf("replace session %s: %w", sess.GameCode, err)
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list state dir %s: %w", s.dir, err)
	}
	var codes []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		codes = append(codes, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(codes)
	return codes, nil
}
