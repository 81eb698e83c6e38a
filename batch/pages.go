package batch

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PageSource yields the rasterized pages of one exam in order. Page numbers
// are 1-based.
type PageSource interface {
	Len() int
	Page(ctx context.Context, n int) (image.Image, error)
}

// SlicePages serves pages already in memory.
type SlicePages []image.Image

func (p SlicePages) Len() int { return len(p) }

func (p SlicePages) Page(_ context.Context, n int) (image.Image, error) {
	if n < 1 || n > len(p) {
		return nil, fmt.Errorf("page %d out of range [1,%d]", n, len(p))
	}
	return p[n-1], nil
}

// DirPages reads page images from a directory in natural name order, so
// page_2.png comes before page_10.png. Pages are decoded on demand.
type DirPages struct {
	Dir   string
	files []string
}

var pageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// OpenDir lists the PNG and JPEG files in dir.
func OpenDir(dir string) (*DirPages, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read page dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !pageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.SliceStable(files, func(i, j int) bool {
		return naturalLess(filepath.Base(files[i]), filepath.Base(files[j]))
	})
	return &DirPages{Dir: dir, files: files}, nil
}

func (d *DirPages) Len() int { return len(d.files) }

// Files returns the page files in page order.
func (d *DirPages) Files() []string { return append([]string(nil), d.files...) }

func (d *DirPages) Page(ctx context.Context, n int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n < 1 || n > len(d.files) {
		return nil, fmt.Errorf("page %d out of range [1,%d]", n, len(d.files))
	}
	f, err := os.Open(d.files[n-1])
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(d.files[n-1]), err)
	}
	return img, nil
}

// naturalLess compares names chunk by chunk, digit runs by numeric value.
// Equal values with different padding fall back to the shorter run first,
// then to plain byte order.
func naturalLess(a, b string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			si, sj := i, j
			for i < len(a) && isDigit(a[i]) {
				i++
			}
			for j < len(b) && isDigit(b[j]) {
				j++
			}
			na := strings.TrimLeft(a[si:i], "0")
			nb := strings.TrimLeft(b[sj:j], "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			if i-si != j-sj {
				return i-si < j-sj
			}
			continue
		}
		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}
	if len(a)-i != len(b)-j {
		return len(a)-i < len(b)-j
	}
	return a < b
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
