// Package dotenv stores the session record in a .env style key-value file
// alongside the credentials it was obtained with.
package dotenv

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/jmcleod/tradedesk/storage"
	"github.com/joho/godotenv"
)

// Store reads and writes the four session keys in a .env file. Every other
// line, comments and ${VAR} references included, is kept verbatim on write;
// the session keys are rewritten at the end of the file.
type Store struct {
	path string
	mu   sync.Mutex
}

var _ storage.Store = (*Store)(nil)

// New returns a Store for the file at path. The file need not exist.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

func (s *Store) Load(ctx context.Context) (storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return storage.Record{}, err
	}
	values, err := s.read()
	if err != nil {
		return storage.Record{}, err
	}
	rec := storage.RecordFromValues(values)
	if !rec.Complete() {
		return storage.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) Save(ctx context.Context, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !rec.Complete() {
		return storage.ErrIncompleteRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.readRaw()
	if err != nil {
		return err
	}
	kept, _ := dropKeys(raw, storage.Keys)
	return s.write(kept, rec.Values())
}

func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.readRaw()
	if err != nil {
		return err
	}
	kept, dropped := dropKeys(raw, storage.Keys)
	if !dropped {
		return nil
	}
	return s.write(kept, nil)
}

// read returns the file's key-value pairs; a missing file is empty.
func (s *Store) read() (map[string]string, error) {
	values, err := godotenv.Read(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	return values, nil
}

// readRaw returns the file's text; a missing file is empty.
func (s *Store) readRaw() (string, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", s.path, err)
	}
	return string(b), nil
}

// dropKeys returns the lines of raw that do not assign one of keys, and
// whether any did. Quoted values spanning several lines stay with their key.
func dropKeys(raw string, keys []string) (kept []string, dropped bool) {
	raw = strings.TrimRight(raw, "\n")
	if raw == "" {
		return nil, false
	}
	var open byte
	skip := false
	for _, line := range strings.Split(raw, "\n") {
		if open != 0 {
			if closesQuote(strings.TrimSuffix(line, "\r"), open) {
				open = 0
			}
			if !skip {
				kept = append(kept, line)
			}
			continue
		}
		key, value, ok := splitAssignment(strings.TrimSuffix(line, "\r"))
		skip = ok && slices.Contains(keys, key)
		if ok && value != "" && (value[0] == '"' || value[0] == '\'') && !closesQuote(value[1:], value[0]) {
			open = value[0]
		}
		if skip {
			dropped = true
			continue
		}
		kept = append(kept, line)
	}
	return kept, dropped
}

// splitAssignment reads "[export] KEY=value" or "KEY: value".
func splitAssignment(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")
	i := strings.IndexAny(line, "=:")
	if i <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:i])
	if strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return key, strings.TrimSpace(line[i+1:]), true
}

// closesQuote reports whether s holds the closing quote q. Backslash
// escapes apply inside double quotes only.
func closesQuote(s string, q byte) bool {
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && q == '"':
			i++
		case s[i] == q:
			return true
		}
	}
	return false
}

// write replaces the file atomically: temp file in the same directory,
// fsync, rename. kept lines go first, unchanged, followed by values.
func (s *Store) write(kept []string, values map[string]string) error {
	content := strings.Join(kept, "\n")
	if len(values) > 0 {
		encoded, err := godotenv.Marshal(values)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", s.path, err)
		}
		// Marshal writes numeric-looking values as integers, losing leading
		// zeros. Quote everything when the output does not read back exactly.
		if back, err := godotenv.Unmarshal(encoded); err != nil || !maps.Equal(back, values) {
			encoded = quoteAll(values)
		}
		if content != "" {
			content += "\n"
		}
		content += encoded
	}
	if content != "" {
		content += "\n"
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}

var quoteReplacer = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, `$`, `\$`)

func quoteAll(values map[string]string) string {
	var b strings.Builder
	for i, k := range slices.Sorted(maps.Keys(values)) {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s=\"%s\"", k, quoteReplacer.Replace(values[k]))
	}
	return b.String()
}
