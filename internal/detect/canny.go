package detect

import "math"

// BinaryImage is a single-channel edge/mask image: 0 or 255 per pixel.
type BinaryImage struct {
	Width, Height int
	Pix           []uint8
}

func newBinaryImage(w, h int) BinaryImage {
	return BinaryImage{Width: w, Height: h, Pix: make([]uint8, w*h)}
}

func (b BinaryImage) at(x, y int) uint8 {
	if x < 0 || x >= b.Width || y < 0 || y >= b.Height {
		return 0
	}
	return b.Pix[y*b.Width+x]
}

// Canny implements step 3 of spec §4.B: Sobel gradients, non-maximum
// suppression along the gradient direction, then double-threshold
// hysteresis using the configured low/high thresholds.
func Canny(src GrayImage, low, high float64) BinaryImage {
	gx := newFloatImage(src.Width, src.Height)
	gy := newFloatImage(src.Width, src.Height)
	sobel(src, gx, gy)

	mag := newFloatImage(src.Width, src.Height)
	dir := newFloatImage(src.Width, src.Height)
	for i := range mag.v {
		mag.v[i] = math.Hypot(gx.v[i], gy.v[i])
		dir.v[i] = math.Atan2(gy.v[i], gx.v[i])
	}

	suppressed := nonMaxSuppress(mag, dir)
	return hysteresis(suppressed, low, high)
}

type floatImage struct {
	w, h int
	v    []float64
}

func newFloatImage(w, h int) *floatImage { return &floatImage{w: w, h: h, v: make([]float64, w*h)} }

func (f *floatImage) at(x, y int) float64 {
	if x < 0 || x >= f.w || y < 0 || y >= f.h {
		return 0
	}
	return f.v[y*f.w+x]
}

func sobel(src GrayImage, gx, gy *floatImage) {
	kx := [3][3]float64{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	ky := [3][3]float64{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			var sx, sy float64
			for j := -1; j <= 1; j++ {
				for i := -1; i <= 1; i++ {
					p := float64(src.at(x+i, y+j))
					sx += p * kx[j+1][i+1]
					sy += p * ky[j+1][i+1]
				}
			}
			gx.v[y*src.Width+x] = sx
			gy.v[y*src.Width+x] = sy
		}
	}
}

func nonMaxSuppress(mag, dir *floatImage) *floatImage {
	out := newFloatImage(mag.w, mag.h)
	for y := 0; y < mag.h; y++ {
		for x := 0; x < mag.w; x++ {
			angle := dir.at(x, y)
			// Quantize to one of 4 directions (0, 45, 90, 135 degrees).
			deg := math.Mod(angle*180/math.Pi+180, 180)
			var n1, n2 float64
			switch {
			case deg < 22.5 || deg >= 157.5:
				n1, n2 = mag.at(x-1, y), mag.at(x+1, y)
			case deg < 67.5:
				n1, n2 = mag.at(x-1, y-1), mag.at(x+1, y+1)
			case deg < 112.5:
				n1, n2 = mag.at(x, y-1), mag.at(x, y+1)
			default:
				n1, n2 = mag.at(x+1, y-1), mag.at(x-1, y+1)
			}
			m := mag.at(x, y)
			if m >= n1 && m >= n2 {
				out.v[y*mag.w+x] = m
			}
		}
	}
	return out
}

func hysteresis(mag *floatImage, low, high float64) BinaryImage {
	out := newBinaryImage(mag.w, mag.h)
	strong := make([]bool, len(mag.v))
	weak := make([]bool, len(mag.v))
	for i, m := range mag.v {
		switch {
		case m >= high:
			strong[i] = true
		case m >= low:
			weak[i] = true
		}
	}

	// Promote weak pixels 8-connected to a strong pixel. A fixed-point
	// iteration over a handful of passes is enough for the short edge
	// chains a dashboard-cam frame produces at 20Hz.
	for pass := 0; pass < 4; pass++ {
		changed := false
		for y := 0; y < mag.h; y++ {
			for x := 0; x < mag.w; x++ {
				idx := y*mag.w + x
				if !weak[idx] || strong[idx] {
					continue
				}
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := x+dx, y+dy
						if nx < 0 || nx >= mag.w || ny < 0 || ny >= mag.h {
							continue
						}
						if strong[ny*mag.w+nx] {
							strong[idx] = true
							changed = true
						}
					}
				}
			}
		}
		if !changed {
			break
		}
	}

	for i, s := range strong {
		if s {
			out.Pix[i] = 255
		}
	}
	return out
}
