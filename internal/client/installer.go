package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Coollin0/Indie-Hain/internal/manifest"
)

var (
	// ErrChunkCorrupt means a downloaded chunk failed its hash check. The
	// install aborts; nothing is written to the final location.
	ErrChunkCorrupt = errors.New("downloaded chunk failed hash check")
	// ErrFileCorrupt means a reassembled file failed its whole-file hash
	// check, independent of the per-chunk checks.
	ErrFileCorrupt = errors.New("reconstructed file failed hash check")
)

// DefaultInstallWorkers bounds download parallelism.
const DefaultInstallWorkers = 6

type InstallOptions struct {
	Workers    int
	OnLog      func(msg string)
	OnProgress func(done, total int)
}

func (o *InstallOptions) log(format string, args ...interface{}) {
	if o != nil && o.OnLog != nil {
		o.OnLog(fmt.Sprintf(format, args...))
	}
}

type chunkResult struct {
	hash string
	data []byte
	err  error
}

// Install downloads every chunk of the manifest with a bounded worker pool,
// verifies each chunk, reconstructs the files under installDir, and
// re-verifies every whole file before moving it into place. Any corruption
// aborts the install; no partially verified file is left at its final path.
func Install(ctx context.Context, api *API, m *manifest.Manifest, installDir string, opts *InstallOptions) error {
	if err := manifest.Validate(m); err != nil {
		return fmt.Errorf("manifest rejected: %w", err)
	}
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return err
	}

	workers := DefaultInstallWorkers
	if opts != nil && opts.Workers > 0 {
		workers = opts.Workers
	}

	hashes := m.ChunkSet()
	opts.log("downloading %d chunks with %d workers", len(hashes), workers)
	data, err := fetchChunks(ctx, api, m, hashes, workers, opts)
	if err != nil {
		return err
	}

	for i := range m.Files {
		if err := writeFile(installDir, &m.Files[i], data); err != nil {
			return err
		}
	}
	opts.log("installed %d files", len(m.Files))
	return nil
}

// fetchChunks runs the worker pool: a jobs channel feeds hashes, results
// come back verified or not at all.
func fetchChunks(ctx context.Context, api *API, m *manifest.Manifest, hashes []string, workers int, opts *InstallOptions) (map[string][]byte, error) {
	jobs := make(chan string, len(hashes))
	results := make(chan chunkResult, len(hashes))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for hash := range jobs {
				if ctx.Err() != nil {
					results <- chunkResult{hash: hash, err: ctx.Err()}
					continue
				}
				data, err := api.GetChunk(ctx, hash, m.App, m.Version, m.Platform, m.Channel)
				if err != nil {
					results <- chunkResult{hash: hash, err: err}
					continue
				}
				if hashBytes(data) != hash {
					results <- chunkResult{hash: hash, err: fmt.Errorf("%w: %s", ErrChunkCorrupt, hash)}
					continue
				}
				results <- chunkResult{hash: hash, data: data}
			}
		}()
	}

	for _, h := range hashes {
		jobs <- h
	}
	close(jobs)
	go func() {
		wg.Wait()
		close(results)
	}()

	chunkData := make(map[string][]byte, len(hashes))
	done := 0
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
				// Abort queued and in-flight downloads instead of letting
				// them run to completion under a doomed install.
				cancel()
			}
			continue
		}
		chunkData[res.hash] = res.data
		done++
		if opts != nil && opts.OnProgress != nil {
			opts.OnProgress(done, len(hashes))
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return chunkData, nil
}

// writeFile concatenates the file's chunks in manifest order to a temp file,
// re-hashes the result, and renames into place only when the whole-file
// hash matches.
func writeFile(installDir string, f *manifest.FileEntry, chunkData map[string][]byte) error {
	target, err := manifest.SafeJoin(installDir, f.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".install-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	for _, c := range f.Chunks {
		data, ok := chunkData[c.SHA256]
		if !ok {
			tmp.Close()
			return fmt.Errorf("chunk %s missing for %s", c.SHA256, f.Path)
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	ok, err := verifyFileHash(tmp.Name(), f.SHA256)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileCorrupt, f.Path)
	}
	return os.Rename(tmp.Name(), target)
}

func verifyFileHash(path, want string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	return hashBytes(data) == want, nil
}
