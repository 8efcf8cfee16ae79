package detect

import (
	"sync"

	"github.com/cdipaolo/goml/base"
	"github.com/cdipaolo/goml/linear"
	"github.com/lkasproject/lkas-core/internal/lkcore"
)

// calibratorFeatureCount is the fixed feature vector width fed to the
// confidence model: {residual, segment_count, fit_age_frames}.
const calibratorFeatureCount = 3

// DeepLearning is the spec §4.B "DeepLearning" detector variant. It honors
// the exact same detect(rgb, frame_id) contract and budget as Classical,
// running the identical CV pipeline to produce candidate segments and a
// raw least-squares fit, but blends the fixed clamp(1-residual/scale)
// confidence (step 9) half and half with the prediction of a small
// online-learned linear model (github.com/cdipaolo/goml/linear.LeastSquares)
// trained on (raw confidence, fit age, bias) features against a target of
// raw confidence scaled by how long the fit has survived (min(age,10)/10).
// This keeps the
// "deep learning" backend distinct from the classical one at the one
// place the spec leaves room for a learned component — confidence
// calibration — without claiming a full learned lane detector, which is
// out of scope per spec §9.
type DeepLearning struct {
	*Classical

	mu     sync.Mutex
	model  *linear.LeastSquares
	trainX [][]float64
	trainY []float64

	leftAge, rightAge int
}

// maxCalibratorSamples bounds the online training set so Learn() stays
// cheap enough to run every frame at 20-60Hz.
const maxCalibratorSamples = 200

func NewDeepLearning(cfg lkcore.CVConfig) *DeepLearning {
	dummyX := [][]float64{{0, 0, 0}}
	dummyY := []float64{0}
	model := linear.NewLeastSquares(base.BatchGA, 0.0001, 0, 50, dummyX, dummyY)
	// Seeding with a single zero datapoint mirrors the teacher's
	// construction pattern (dummyX/dummyY) so Predict has a defined
	// starting hyperplane before the first online Learn call.
	_ = model.Learn()

	return &DeepLearning{Classical: NewClassical(cfg), model: model}
}

func (d *DeepLearning) Detect(rgb []byte, width, height, channels int, frameID uint64) lkcore.DetectionResult {
	result := d.Classical.Detect(rgb, width, height, channels, frameID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if result.LeftLane != nil {
		d.leftAge++
		result.LeftLane.Confidence = d.calibrate(result.LeftLane.Confidence, d.leftAge)
	} else {
		d.leftAge = 0
	}
	if result.RightLane != nil {
		d.rightAge++
		result.RightLane.Confidence = d.calibrate(result.RightLane.Confidence, d.rightAge)
	} else {
		d.rightAge = 0
	}
	return result
}

// calibrate blends the classical confidence with the learned model's
// prediction, and folds the observation back into the model's training
// set so it adapts online (the "cost model" online-learning pattern the
// teacher's learning engine uses for its own linear models).
func (d *DeepLearning) calibrate(raw float64, age int) float64 {
	features := []float64{raw, float64(age), 1}
	pred, err := d.model.Predict(features)
	blended := raw
	if err == nil && len(pred) > 0 {
		blended = clamp(0.5*raw+0.5*pred[0], 0, 1)
	}

	target := clamp(raw*float64(min(age, 10))/10, 0, 1)
	d.trainX = append(d.trainX, features)
	d.trainY = append(d.trainY, target)
	if len(d.trainX) > maxCalibratorSamples {
		d.trainX = d.trainX[len(d.trainX)-maxCalibratorSamples:]
		d.trainY = d.trainY[len(d.trainY)-maxCalibratorSamples:]
	}
	if err := d.model.UpdateTrainingSet(d.trainX, d.trainY); err == nil {
		_ = d.model.Learn()
	}
	return blended
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
