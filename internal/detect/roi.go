package detect

// ApplyROIMask zeroes every edge pixel outside the trapezoid described by
// spec §4.B step 4: four x-fractions and a top-y-fraction of image height.
// The trapezoid's base is the full image bottom; its top edge runs from
// topLeftX to topRightX at y = topY*height.
func ApplyROIMask(edges BinaryImage, topY, topLeftX, topRightX, bottomLeftX, bottomRightX float64) BinaryImage {
	h := float64(edges.Height)
	topYPx := topY * h
	out := newBinaryImage(edges.Width, edges.Height)

	for y := 0; y < edges.Height; y++ {
		fy := float64(y)
		if fy < topYPx {
			continue
		}
		// Linear interpolation of the trapezoid's left/right edge x-bounds
		// between the bottom (fy=h) and the ROI top (fy=topYPx).
		t := 0.0
		if h > topYPx {
			t = (fy - topYPx) / (h - topYPx)
		}
		leftX := lerp(topLeftX, bottomLeftX, t) * float64(edges.Width)
		rightX := lerp(topRightX, bottomRightX, t) * float64(edges.Width)
		for x := 0; x < edges.Width; x++ {
			fx := float64(x)
			if fx >= leftX && fx <= rightX {
				out.Pix[y*edges.Width+x] = edges.at(x, y)
			}
		}
	}
	return out
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }
