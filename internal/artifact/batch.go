// Package artifact defines the generated-file batch model and its
// pre-apply validation rules.
package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
)

// File is a single generated file addressed by its project-relative path.
// Content is a pointer so that a JSON null survives decoding and can be
// rejected by validation instead of being silently coerced to "".
type File struct {
	Path    string
	Content *string
}

// Text returns the file content, or "" when the content is absent.
func (f File) Text() string {
	if f.Content == nil {
		return ""
	}
	return *f.Content
}

// Size returns the content length in bytes. Absent content counts as zero.
func (f File) Size() int64 {
	if f.Content == nil {
		return 0
	}
	return int64(len(*f.Content))
}

// Batch is an ordered collection of generated files. At most one entry
// exists per path; adding a path again replaces its content in place and
// keeps the original position.
//
// Methods are safe for concurrent use. The stability gate snapshots a
// batch that a producer goroutine may still be filling, so readers and
// the writer must be able to overlap.
type Batch struct {
	mu    sync.RWMutex
	files []File
	index map[string]int
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{index: make(map[string]int)}
}

// Add sets the content for path, appending a new entry if the path is new.
func (b *Batch) Add(path, content string) {
	b.AddRaw(path, &content)
}

// AddRaw is Add for callers that need to carry an absent (nil) content
// through to validation.
func (b *Batch) AddRaw(path string, content *string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.index == nil {
		b.index = make(map[string]int)
	}
	if i, ok := b.index[path]; ok {
		b.files[i].Content = content
		return
	}
	b.index[path] = len(b.files)
	b.files = append(b.files, File{Path: path, Content: content})
}

// Get returns the entry for path.
func (b *Batch) Get(path string) (File, bool) {
	if b == nil {
		return File{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	i, ok := b.index[path]
	if !ok {
		return File{}, false
	}
	return b.files[i], true
}

// Len returns the number of entries.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.files)
}

// Paths returns the file paths in insertion order.
func (b *Batch) Paths() []string {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	paths := make([]string, len(b.files))
	for i, f := range b.files {
		paths[i] = f.Path
	}
	return paths
}

// Files returns a copy of the entries in insertion order. The File values
// share content pointers with the batch.
func (b *Batch) Files() []File {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]File, len(b.files))
	copy(out, b.files)
	return out
}

// TotalBytes returns the summed content size of all entries.
func (b *Batch) TotalBytes() int64 {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n int64
	for _, f := range b.files {
		n += f.Size()
	}
	return n
}

// Signature returns a hash over every path, content length, and content
// byte in order. Two snapshots of the same batch differ iff the batch was
// mutated between them, which is what the stability gate checks.
func (b *Batch) Signature() uint64 {
	h := fnv.New64a()
	if b == nil {
		return h.Sum64()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, f := range b.files {
		h.Write([]byte(f.Path))
		h.Write([]byte{0})
		if f.Content == nil {
			h.Write([]byte("-"))
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte(strconv.Itoa(len(*f.Content))))
		h.Write([]byte{0})
		h.Write([]byte(*f.Content))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// MarshalJSON encodes the batch as a JSON object in insertion order.
// Absent content encodes as null.
func (b *Batch) MarshalJSON() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range b.files {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Path)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if f.Content == nil {
			buf.WriteString("null")
			continue
		}
		val, err := json.Marshal(*f.Content)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into the batch, preserving key order
// and capturing null content as an absent entry. Duplicate keys are an
// error: a batch holds at most one entry per path.
func (b *Batch) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decoding batch: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decoding batch: expected object, got %v", tok)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.files = nil
	b.index = make(map[string]int)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decoding batch: %w", err)
		}
		path, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("decoding batch: non-string key %v", keyTok)
		}
		if _, dup := b.index[path]; dup {
			return fmt.Errorf("decoding batch: duplicate path %q", path)
		}
		var content *string
		if err := dec.Decode(&content); err != nil {
			return fmt.Errorf("decoding batch: content for %q: %w", path, err)
		}
		b.index[path] = len(b.files)
		b.files = append(b.files, File{Path: path, Content: content})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decoding batch: %w", err)
	}
	return nil
}
