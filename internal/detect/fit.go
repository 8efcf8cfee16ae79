package detect

import "math"

// side identifies which lane a candidate segment belongs to.
type side int

const (
	sideNone side = iota
	sideLeft
	sideRight
)

// classify implements spec §4.B step 6: reject near-horizontal artifacts,
// then route by slope sign and midpoint position.
func classify(seg Segment, minSlope float64, imageWidth int) side {
	slope, ok := seg.slope()
	if !ok || math.Abs(slope) < minSlope {
		return sideNone
	}
	midX, _ := seg.midpoint()
	half := float64(imageWidth) / 2
	switch {
	case slope < 0 && midX < half:
		return sideLeft
	case slope > 0 && midX >= half:
		return sideRight
	default:
		return sideNone
	}
}

// fitResult is a weighted least-squares line plus its residual, used both
// to extrapolate the final segment and to derive a confidence score.
type fitResult struct {
	slope, intercept float64
	residual         float64
	ok               bool
}

// weightedLeastSquaresFit implements spec §4.B step 7: aggregate candidate
// segments into one line via weighted least squares (weight = segment
// length), fitting x as a function of y since near-vertical lane lines are
// better conditioned that way than fitting y = f(x).
func weightedLeastSquaresFit(segs []Segment) fitResult {
	if len(segs) == 0 {
		return fitResult{}
	}
	var sw, swy, swx, swyy, swxy float64
	for _, s := range segs {
		w := s.length()
		for _, p := range [][2]float64{{s.X1, s.Y1}, {s.X2, s.Y2}} {
			x, y := p[0], p[1]
			sw += w
			swy += w * y
			swx += w * x
			swyy += w * y * y
			swxy += w * y * x
		}
	}
	if sw == 0 {
		return fitResult{}
	}
	// Solve x = slope*y + intercept via weighted normal equations.
	denom := sw*swyy - swy*swy
	if denom == 0 {
		return fitResult{}
	}
	slope := (sw*swxy - swy*swx) / denom
	intercept := (swx - slope*swy) / sw

	var residual float64
	for _, s := range segs {
		w := s.length()
		for _, p := range [][2]float64{{s.X1, s.Y1}, {s.X2, s.Y2}} {
			x, y := p[0], p[1]
			pred := slope*y + intercept
			d := x - pred
			residual += w * d * d
		}
	}
	residual = math.Sqrt(residual / sw)

	return fitResult{slope: slope, intercept: intercept, residual: residual, ok: true}
}

// extrapolate projects the fitted x=f(y) line to the image bottom and to
// the ROI horizon, producing the final endpoints spec §4.B step 7 and the
// "Output invariants" paragraph require.
func (f fitResult) extrapolate(imageHeight float64, roiTopY float64) (x1, y1, x2, y2 float64) {
	y1 = imageHeight
	y2 = roiTopY * imageHeight
	x1 = f.slope*y1 + f.intercept
	x2 = f.slope*y2 + f.intercept
	return
}

// confidence implements spec §4.B step 9: clamp(1 - residual/scale, 0, 1).
// scale is the pixel distance beyond which a fit is considered worthless;
// a scale <= 0 yields confidence 0 (Classical passes a quarter of the image
// width).
func confidence(residual, scale float64) float64 {
	if scale <= 0 {
		return 0
	}
	return clamp(1-residual/scale, 0, 1)
}
