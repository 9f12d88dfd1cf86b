package manifest

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidPath   = errors.New("invalid path")
	ErrDuplicatePath = errors.New("duplicate path")
	ErrBadHash       = errors.New("malformed hash")
	ErrOffsetGap     = errors.New("chunk offsets not contiguous")
	ErrSizeMismatch  = errors.New("chunk sizes do not sum to file size")
	ErrTotalMismatch = errors.New("file sizes do not sum to total size")
)

var hexHashRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidHash reports whether h is a well-formed lowercase hex SHA-256 digest.
func ValidHash(h string) bool {
	return hexHashRe.MatchString(h)
}

// Validate checks the manifest's internal consistency. The first violation
// fails the manifest as a whole; partial acceptance is never allowed. Paths
// are normalized in place so later consumers always see the cleaned form.
func Validate(m *Manifest) error {
	seen := make(map[string]struct{}, len(m.Files))
	var total int64
	for i := range m.Files {
		f := &m.Files[i]
		norm, err := NormalizePath(f.Path)
		if err != nil {
			return err
		}
		if _, dup := seen[norm]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicatePath, norm)
		}
		seen[norm] = struct{}{}
		f.Path = norm

		if !ValidHash(f.SHA256) {
			return fmt.Errorf("%w: file %q hash %q", ErrBadHash, norm, f.SHA256)
		}
		if f.Size < 0 {
			return fmt.Errorf("%w: file %q negative size", ErrSizeMismatch, norm)
		}

		var offset, sum int64
		for _, c := range f.Chunks {
			if !ValidHash(c.SHA256) {
				return fmt.Errorf("%w: chunk %q in %q", ErrBadHash, c.SHA256, norm)
			}
			if c.Size <= 0 {
				return fmt.Errorf("%w: chunk in %q has size %d", ErrSizeMismatch, norm, c.Size)
			}
			if c.Offset != offset {
				return fmt.Errorf("%w: file %q expected offset %d, got %d", ErrOffsetGap, norm, offset, c.Offset)
			}
			offset += c.Size
			sum += c.Size
		}
		if sum != f.Size {
			return fmt.Errorf("%w: file %q declares %d bytes, chunks carry %d", ErrSizeMismatch, norm, f.Size, sum)
		}
		total += f.Size
	}
	if total != m.TotalSize {
		return fmt.Errorf("%w: declared %d, files sum to %d", ErrTotalMismatch, m.TotalSize, total)
	}
	return nil
}
