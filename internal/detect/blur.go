package detect

import "math"

// GaussianBlur applies a separable 5x5 Gaussian blur (step 2 of spec
// §4.B's pipeline: "Gaussian blur (kernel 5, σ auto)"). σ is derived from
// the kernel size using OpenCV's own default formula for getGaussianKernel
// when sigma<=0: σ = 0.3*((ksize-1)*0.5-1)+0.8.
func GaussianBlur(src GrayImage) GrayImage {
	const ksize = 5
	sigma := 0.3*((ksize-1)*0.5-1) + 0.8
	kernel := gaussianKernel1D(ksize, sigma)

	horiz := newGrayImage(src.Width, src.Height)
	radius := ksize / 2
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			var acc float64
			for k := -radius; k <= radius; k++ {
				acc += float64(src.at(x+k, y)) * kernel[k+radius]
			}
			horiz.Pix[y*src.Width+x] = uint8(clamp(acc, 0, 255))
		}
	}

	out := newGrayImage(src.Width, src.Height)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			var acc float64
			for k := -radius; k <= radius; k++ {
				acc += float64(horiz.at(x, y+k)) * kernel[k+radius]
			}
			out.Pix[y*src.Width+x] = uint8(clamp(acc, 0, 255))
		}
	}
	return out
}

func gaussianKernel1D(ksize int, sigma float64) []float64 {
	radius := ksize / 2
	kernel := make([]float64, ksize)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}
