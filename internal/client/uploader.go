package client

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/Coollin0/Indie-Hain/internal/manifest"
)

// BuildManifest walks the build tree and assembles the manifest candidate:
// every regular file chunked, chunk and whole-file hashes computed, paths
// relative with forward slashes. Files are ordered by path so the same tree
// always yields the same manifest.
func BuildManifest(root, slug, version, platform, channel string) (*manifest.Manifest, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	m := &manifest.Manifest{
		App:       slug,
		Version:   version,
		Platform:  platform,
		Channel:   channel,
		ChunkBase: "/storage/chunks",
	}
	for _, path := range paths {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil, err
		}
		chunks, fileHash, size, err := ChunkFile(path)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", rel, err)
		}
		refs := make([]manifest.ChunkRef, len(chunks))
		for i, c := range chunks {
			refs[i] = c.Ref
		}
		m.Files = append(m.Files, manifest.FileEntry{
			Path:   filepath.ToSlash(rel),
			Size:   size,
			SHA256: fileHash,
			Chunks: refs,
		})
		m.TotalSize += size
	}
	return m, nil
}

// UploadOptions carries the progress hooks of an upload run.
type UploadOptions struct {
	OnLog      func(msg string)
	OnProgress func(percent int)
}

func (o *UploadOptions) log(format string, args ...interface{}) {
	if o != nil && o.OnLog != nil {
		o.OnLog(fmt.Sprintf(format, args...))
	}
}

func (o *UploadOptions) progress(p int) {
	if o != nil && o.OnProgress != nil {
		o.OnProgress(p)
	}
}

// Upload runs the publisher flow end to end: build the manifest locally,
// create the build, diff missing chunks, upload only those, finalize.
// Returns the server-side manifest location.
func Upload(ctx context.Context, api *API, appID uint, slug, version, platform, channel string, root string, opts *UploadOptions) (string, error) {
	opts.log("building manifest for %s", root)
	m, err := BuildManifest(root, slug, version, platform, channel)
	if err != nil {
		return "", err
	}

	buildID, err := api.CreateBuild(ctx, appID, version, platform, channel)
	if err != nil {
		return "", err
	}
	opts.log("build %d created", buildID)

	hashes := m.ChunkSet()
	missing, err := api.MissingChunks(ctx, buildID, hashes)
	if err != nil {
		return "", err
	}
	opts.log("%d of %d chunks missing", len(missing), len(hashes))

	want := make(map[string]struct{}, len(missing))
	for _, h := range missing {
		want[h] = struct{}{}
	}

	uploaded := 0
	total := len(missing)
	for _, f := range m.Files {
		if len(want) == 0 {
			break
		}
		if !fileNeedsUpload(&f, want) {
			continue
		}
		path := filepath.Join(root, filepath.FromSlash(f.Path))
		if err := uploadFileChunks(ctx, api, path, &f, want, func() {
			uploaded++
			if total > 0 {
				opts.progress(uploaded * 100 / total)
			}
		}); err != nil {
			return "", err
		}
	}

	opts.log("finalizing build %d", buildID)
	manifestURL, err := api.Finalize(ctx, buildID, m)
	if err != nil {
		return "", err
	}
	opts.progress(100)
	return manifestURL, nil
}

func fileNeedsUpload(f *manifest.FileEntry, want map[string]struct{}) bool {
	for _, c := range f.Chunks {
		if _, ok := want[c.SHA256]; ok {
			return true
		}
	}
	return false
}

// uploadFileChunks re-reads the needed chunk windows by offset and uploads
// them. Each uploaded hash is removed from want so shared chunks go up once.
func uploadFileChunks(ctx context.Context, api *API, path string, f *manifest.FileEntry, want map[string]struct{}, onChunk func()) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	for _, c := range f.Chunks {
		if _, ok := want[c.SHA256]; !ok {
			continue
		}
		data := make([]byte, c.Size)
		if _, err := src.ReadAt(data, c.Offset); err != nil {
			return fmt.Errorf("read chunk at %d in %s: %w", c.Offset, path, err)
		}
		if err := api.UploadChunk(ctx, c.SHA256, data); err != nil {
			return fmt.Errorf("upload chunk %s: %w", c.SHA256, err)
		}
		delete(want, c.SHA256)
		onChunk()
	}
	return nil
}
