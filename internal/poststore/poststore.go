// Package poststore содержит файловое хранилище содержимого опубликованных ссылок.
// Записи складываются пачками в файлы posts_N.json; реестр в БД хранит
// только ссылку вида "posts_N.json:индекс".
package poststore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultPostsPerFile = 10000

// ErrBadRef возвращается при некорректном формате ссылки на запись.
var (
	ErrBadRef = errors.New("malformed payload ref")
	// ErrPayloadNotFound возвращается, если запись по ссылке отсутствует.
	ErrPayloadNotFound = errors.New("payload not found")
)

// LinkData описывает содержимое опубликованной ссылки.
type LinkData struct {
	OwnerID    int64     `json:"user_id"`
	URL        string    `json:"url"`
	DatePosted time.Time `json:"date_posted"`
	Status     string    `json:"status"`
}

// FileStore хранит содержимое ссылок в JSON-файлах каталога dir.
// Запись выполняется перечитыванием и перезаписью файла целиком, поэтому
// все операции сериализуются мьютексом: без него параллельные публикации
// выдают дублирующиеся ссылки на записи и рвут файл под читателями.
type FileStore struct {
	mu          sync.Mutex
	dir         string
	postsPerCap int
}

// NewFileStore создаёт хранилище в указанном каталоге.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create posts dir: %w", err)
	}
	return &FileStore{dir: dir, postsPerCap: defaultPostsPerFile}, nil
}

// Store дописывает запись в последний файл, при переполнении начинает новый.
// Возвращает ссылку на запись для реестра.
func (s *FileStore) Store(data LinkData) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, err := s.latestFile()
	if err != nil {
		return "", err
	}

	posts, err := s.readFile(name)
	if err != nil {
		return "", err
	}

	if len(posts) >= s.postsPerCap {
		seq, err := fileSeq(name)
		if err != nil {
			return "", err
		}
		name = fmt.Sprintf("posts_%d.json", seq+1)
		posts = nil
	}

	posts = append(posts, data)

	if err := s.writeFile(name, posts); err != nil {
		return "", err
	}

	return fmt.Sprintf("%s:%d", name, len(posts)-1), nil
}

// Load читает запись по ссылке вида "posts_N.json:индекс".
func (s *FileStore) Load(ref string) (*LinkData, error) {
	name, idx, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	posts, err := s.readFile(name)
	if err != nil {
		return nil, err
	}

	if idx < 0 || idx >= len(posts) {
		return nil, fmt.Errorf("%w: %s", ErrPayloadNotFound, ref)
	}

	data := posts[idx]
	return &data, nil
}

// Snapshot возвращает копию содержимого всех файлов хранилища для резервного
// копирования. Копия снимается под мьютексом, чтобы параллельная запись
// не порвала файл под читателем.
func (s *FileStore) Snapshot() (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.fileNames()
	if err != nil {
		return nil, err
	}

	files := make(map[string][]byte, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read posts file: %w", err)
		}
		files[name] = raw
	}
	return files, nil
}

// Dir возвращает каталог хранилища.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) fileNames() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read posts dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "posts_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool {
		a, errA := fileSeq(names[i])
		b, errB := fileSeq(names[j])
		if errA != nil || errB != nil {
			return names[i] < names[j]
		}
		return a < b
	})

	return names, nil
}

func (s *FileStore) latestFile() (string, error) {
	names, err := s.fileNames()
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "posts_1.json", nil
	}
	return names[len(names)-1], nil
}

func (s *FileStore) readFile(name string) ([]LinkData, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read posts file: %w", err)
	}

	var posts []LinkData
	if err := json.Unmarshal(raw, &posts); err != nil {
		return nil, fmt.Errorf("decode posts file %s: %w", name, err)
	}

	return posts, nil
}

func (s *FileStore) writeFile(name string, posts []LinkData) error {
	raw, err := json.Marshal(posts)
	if err != nil {
		return fmt.Errorf("encode posts file: %w", err)
	}

	if err := os.WriteFile(filepath.Join(s.dir, name), raw, 0o644); err != nil {
		return fmt.Errorf("write posts file: %w", err)
	}

	return nil
}

func parseRef(ref string) (string, int, error) {
	name, idxStr, ok := strings.Cut(ref, ":")
	if !ok || name == "" {
		return "", 0, fmt.Errorf("%w: %s", ErrBadRef, ref)
	}

	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %s", ErrBadRef, ref)
	}

	return name, idx, nil
}

func fileSeq(name string) (int, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "posts_"), ".json")
	seq, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrBadRef, name)
	}
	return seq, nil
}
