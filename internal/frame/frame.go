// Package frame converts images into the panel's 1 bit per pixel layout and
// loads prepared frames from disk.
//
// A frame is row-major, MSB-first, 100 bytes per row, 480 rows. A set bit
// is a white pixel, matching the .bin files produced by the image tooling.
// The controller expects the opposite polarity, see Invert.
package frame

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"epdslide/internal/epd"
)

// Panel geometry.
const (
	Width  = epd.Width
	Height = epd.Height
	Stride = Width / 8 // 100 bytes per row
	Size   = Stride * Height
)

var ErrSize = errors.New("frame: wrong frame size")

// Pack runs img through Prepare and packs the result, MSB-first, with
// white pixels as set bits.
func Pack(img image.Image, opts Options) []byte {
	out := make([]byte, Size)
	for i := range out {
		out[i] = 0xFF
	}

	g := Prepare(img, opts)
	for py := 0; py < Height; py++ {
		for px := 0; px < Width; px++ {
			if g.GrayAt(px, py).Y < threshold {
				out[py*Stride+(px>>3)] &^= 0x80 >> (px & 7)
			}
		}
	}
	return out
}

// Invert flips every bit, in place, and returns p.
func Invert(p []byte) []byte {
	for i := range p {
		p[i] = ^p[i]
	}
	return p
}

// Read reads one raw frame from r. Trailing bytes are an error.
func Read(r io.Reader) ([]byte, error) {
	buf := make([]byte, Size)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: short read", ErrSize)
		}
		return nil, err
	}
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n > 0 {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrSize, Size)
	}
	return buf, nil
}

// Load reads a frame file: .bin files are raw frames, anything else is
// decoded as an image and packed with opts.
func Load(path string, opts Options) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".bin") {
		buf, err := Read(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return buf, nil
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("frame: decode %s: %w", path, err)
	}
	return Pack(img, opts), nil
}

// List returns the frame files in dir, sorted by name.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".bin", ".png", ".jpg", ".jpeg":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
