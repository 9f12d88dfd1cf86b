// Package manifest defines the build manifest format: an ordered list of
// files, each described by a whole-file hash and the content-addressed
// chunks that reassemble it.
package manifest

// ChunkRef locates one chunk inside a file.
type ChunkRef struct {
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// FileEntry describes one file of a build tree.
type FileEntry struct {
	Path   string     `json:"path"`
	Size   int64      `json:"size"`
	SHA256 string     `json:"sha256"`
	Chunks []ChunkRef `json:"chunks"`
}

// Manifest is the authoritative description of one (app, version, platform,
// channel) build. Immutable once finalized.
type Manifest struct {
	App       string      `json:"app"`
	Version   string      `json:"version"`
	Platform  string      `json:"platform"`
	Channel   string      `json:"channel"`
	TotalSize int64       `json:"total_size"`
	Files     []FileEntry `json:"files"`
	ChunkBase string      `json:"chunk_base"`
	Signature string      `json:"signature,omitempty"`
}

// ChunkSet returns the distinct chunk hashes referenced by the manifest, in
// first-seen order.
func (m *Manifest) ChunkSet() []string {
	seen := make(map[string]struct{})
	var hashes []string
	for _, f := range m.Files {
		for _, c := range f.Chunks {
			if _, ok := seen[c.SHA256]; ok {
				continue
			}
			seen[c.SHA256] = struct{}{}
			hashes = append(hashes, c.SHA256)
		}
	}
	return hashes
}

// HasChunk reports whether the manifest references the given chunk hash.
func (m *Manifest) HasChunk(hash string) bool {
	for _, f := range m.Files {
		for _, c := range f.Chunks {
			if c.SHA256 == hash {
				return true
			}
		}
	}
	return false
}

// FindFile returns the entry for a normalized path, or nil.
func (m *Manifest) FindFile(path string) *FileEntry {
	for i := range m.Files {
		if m.Files[i].Path == path {
			return &m.Files[i]
		}
	}
	return nil
}
