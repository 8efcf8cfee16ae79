package detect

import "math"

// Segment is a short line found by the probabilistic Hough transform.
type Segment struct {
	X1, Y1, X2, Y2 float64
}

func (s Segment) length() float64 {
	dx, dy := s.X2-s.X1, s.Y2-s.Y1
	return math.Hypot(dx, dy)
}

// slope returns (dy/dx) and whether it's defined (non-vertical).
func (s Segment) slope() (float64, bool) {
	dx := s.X2 - s.X1
	if dx == 0 {
		return 0, false
	}
	return (s.Y2 - s.Y1) / dx, true
}

func (s Segment) midpoint() (float64, float64) {
	return (s.X1 + s.X2) / 2, (s.Y1 + s.Y2) / 2
}

// ProbabilisticHough implements spec §4.B step 5. It follows OpenCV's
// HoughLinesP two-stage approach: a standard (rho, theta) accumulator
// finds candidate line orientations above threshold, then each candidate
// line is walked through the edge image to extract runs of edge pixels
// that survive max_line_gap, keeping only runs at least min_line_len long.
// rho is fixed at 1px and theta at π/180 per the configured defaults.
func ProbabilisticHough(edges BinaryImage, threshold int, minLineLen, maxLineGap float64) []Segment {
	const thetaStep = math.Pi / 180
	w, h := edges.Width, edges.Height
	diag := math.Hypot(float64(w), float64(h))
	numRho := int(2*diag) + 1
	numTheta := 180

	type point struct{ x, y int }
	var edgePoints []point
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if edges.at(x, y) != 0 {
				edgePoints = append(edgePoints, point{x, y})
			}
		}
	}
	if len(edgePoints) == 0 {
		return nil
	}

	accum := make([]int, numRho*numTheta)
	cosT := make([]float64, numTheta)
	sinT := make([]float64, numTheta)
	for t := 0; t < numTheta; t++ {
		theta := float64(t) * thetaStep
		cosT[t] = math.Cos(theta)
		sinT[t] = math.Sin(theta)
	}
	for _, p := range edgePoints {
		for t := 0; t < numTheta; t++ {
			rho := float64(p.x)*cosT[t] + float64(p.y)*sinT[t]
			ri := int(rho+diag)
			if ri < 0 || ri >= numRho {
				continue
			}
			accum[ri*numTheta+t]++
		}
	}

	var segments []Segment
	visited := make(map[[2]int]bool)
	for ri := 0; ri < numRho; ri++ {
		for t := 0; t < numTheta; t++ {
			if accum[ri*numTheta+t] < threshold {
				continue
			}
			key := [2]int{ri, t}
			if visited[key] {
				continue
			}
			visited[key] = true
			segs := extractRuns(edges, cosT[t], sinT[t], float64(ri)-diag, minLineLen, maxLineGap)
			segments = append(segments, segs...)
		}
	}
	return segments
}

// extractRuns walks the line defined by rho = x*cosT + y*sinT through the
// edge image's points, collecting contiguous runs of nearby edge pixels
// (gap tolerance maxLineGap) at least minLineLen long.
func extractRuns(edges BinaryImage, cosT, sinT, rho float64, minLineLen, maxLineGap float64) []Segment {
	w, h := edges.Width, edges.Height
	type pt struct{ x, y float64 }
	var onLine []pt

	// Walk along whichever axis the line is more aligned with, sampling at
	// 1px steps and testing only the edge pixel the line rounds to at each
	// step (tol is not applied).
	const tol = 1.5
	if math.Abs(sinT) > math.Abs(cosT) {
		for x := 0; x < w; x++ {
			y := (rho - float64(x)*cosT) / sinT
			yi := int(math.Round(y))
			if yi < 0 || yi >= h {
				continue
			}
			if edges.at(x, yi) != 0 {
				onLine = append(onLine, pt{float64(x), float64(yi)})
			}
		}
	} else {
		for y := 0; y < h; y++ {
			x := (rho - float64(y)*sinT) / cosT
			xi := int(math.Round(x))
			if xi < 0 || xi >= w {
				continue
			}
			if edges.at(xi, y) != 0 {
				onLine = append(onLine, pt{float64(xi), float64(y)})
			}
		}
	}
	_ = tol

	if len(onLine) == 0 {
		return nil
	}

	var segs []Segment
	runStart := 0
	for i := 1; i <= len(onLine); i++ {
		gapExceeded := i == len(onLine)
		if !gapExceeded {
			dx := onLine[i].x - onLine[i-1].x
			dy := onLine[i].y - onLine[i-1].y
			gapExceeded = math.Hypot(dx, dy) > maxLineGap
		}
		if gapExceeded {
			start, end := onLine[runStart], onLine[i-1]
			seg := Segment{X1: start.x, Y1: start.y, X2: end.x, Y2: end.y}
			if seg.length() >= minLineLen {
				segs = append(segs, seg)
			}
			runStart = i
		}
	}
	return segs
}
