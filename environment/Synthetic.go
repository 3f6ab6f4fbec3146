package environment

import (
	"fmt"
	"math"

	"github.com/hypera/hypera/state"
	"github.com/hypera/hypera/timestep"
	"github.com/hypera/hypera/utils/floatutils"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SyntheticConfig configures a Synthetic training run
type SyntheticConfig struct {
	Epochs        int `yaml:"epochs"`
	StepsPerEpoch int `yaml:"steps_per_epoch"`

	// Height and Width are the image dimensions
	Height int `yaml:"height"`
	Width  int `yaml:"width"`

	NumClasses int `yaml:"num_classes"`

	// InitialLearningRate is used until an agent sets the learning rate
	InitialLearningRate float64 `yaml:"initial_learning_rate"`

	// OptimalLearningRate is the learning rate at which the loss
	// decreases fastest. Progress falls off with the distance in
	// decades from it, and learning rates over ten times larger make
	// the loss diverge.
	OptimalLearningRate float64 `yaml:"optimal_learning_rate"`

	// IdealClassWeights are the class weights at which every class
	// reaches the overall dice score
	IdealClassWeights []float64 `yaml:"ideal_class_weights"`

	// FGRatio is the mean fraction of foreground pixels per image
	FGRatio float64 `yaml:"fg_ratio"`

	// Noise is the standard deviation of the metric and pixel noise
	Noise float64 `yaml:"noise"`

	// OverfitRate is how fast the generalization gap grows over the
	// training run
	OverfitRate float64 `yaml:"overfit_rate"`

	Seed uint64 `yaml:"seed"`
}

// DefaultSyntheticConfig returns the default synthetic training run
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Epochs:              50,
		StepsPerEpoch:       4,
		Height:              32,
		Width:               32,
		NumClasses:          2,
		InitialLearningRate: 1e-3,
		OptimalLearningRate: 3e-3,
		IdealClassWeights:   []float64{0.6, 1.4},
		FGRatio:             0.2,
		Noise:               0.02,
		OverfitRate:         0.5,
	}
}

// Validate returns an error if the configuration is invalid
func (c SyntheticConfig) Validate() error {
	if c.Epochs < 1 || c.StepsPerEpoch < 1 {
		return fmt.Errorf("validate: epochs and steps per epoch must be "+
			"positive, got (%d, %d)", c.Epochs, c.StepsPerEpoch)
	}
	if c.Height < 1 || c.Width < 1 {
		return fmt.Errorf("validate: image dimensions must be positive, "+
			"got (%d, %d)", c.Height, c.Width)
	}
	if c.NumClasses < 2 {
		return fmt.Errorf("validate: need at least 2 classes, got %d",
			c.NumClasses)
	}
	if len(c.IdealClassWeights) != c.NumClasses {
		return fmt.Errorf("validate: need one ideal class weight per class"+
			"\n\twant(%v)\n\thave(%v)", c.NumClasses,
			len(c.IdealClassWeights))
	}
	if c.InitialLearningRate <= 0 || c.OptimalLearningRate <= 0 {
		return fmt.Errorf("validate: learning rates must be positive")
	}
	if c.FGRatio <= 0 || c.FGRatio >= 1 {
		return fmt.Errorf("validate: foreground ratio must be in (0, 1), "+
			"got %v", c.FGRatio)
	}
	if c.Noise < 0 || c.OverfitRate < 0 {
		return fmt.Errorf("validate: noise and overfit rate must be " +
			"non-negative")
	}
	return nil
}

// Synthetic implements a simulated segmentation training run. The loss
// decreases at a rate set by how close the learning rate in shared
// state is to an optimal learning rate, the validation loss drifts
// above the loss as training progresses, and per-class dice scores
// suffer as the class weights move away from ideal class weights.
//
// Each step draws an image with a single rectangular foreground region,
// its mask and a soft prediction whose quality follows the current
// dice score.
type Synthetic struct {
	config SyntheticConfig
	state  *state.Manager

	loss, gap float64
	dice      float64

	rng   *rand.Rand
	noise distuv.Normal
}

// NewSynthetic returns a new Synthetic training run recording into m
func NewSynthetic(config SyntheticConfig, m *state.Manager) (*Synthetic,
	error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("newsynthetic: %v", err)
	}
	m.SetTotalEpochs(config.Epochs)

	source := rand.NewSource(config.Seed)
	return &Synthetic{
		config: config,
		state:  m,
		loss:   1.0,
		rng:    rand.New(source),
		noise:  distuv.Normal{Mu: 0, Sigma: config.Noise, Src: source},
	}, nil
}

// Epochs implements the Trainer interface
func (s *Synthetic) Epochs() int {
	return s.config.Epochs
}

// StepsPerEpoch implements the Trainer interface
func (s *Synthetic) StepsPerEpoch() int {
	return s.config.StepsPerEpoch
}

// learningRate returns the current learning rate of shared state
func (s *Synthetic) learningRate() float64 {
	if lr, ok := s.state.Hyperparameter("learning_rate"); ok && len(lr) > 0 {
		return lr[0]
	}
	return s.config.InitialLearningRate
}

// classWeights returns the current class weights of shared state
func (s *Synthetic) classWeights() []float64 {
	weights, ok := s.state.Hyperparameter("class_weights")
	if !ok || len(weights) != s.config.NumClasses {
		weights = make([]float64, s.config.NumClasses)
		for i := range weights {
			weights[i] = 1.0
		}
	}
	return weights
}

// efficiency returns the fraction of the loss removed in an epoch at
// learning rate lr. It is negative for divergent learning rates.
func (s *Synthetic) efficiency(lr float64) float64 {
	decades := math.Log10(lr / s.config.OptimalLearningRate)
	if decades > 1 {
		return -0.05 * decades
	}
	return 0.15 * math.Exp(-decades*decades)
}

// RunEpoch implements the Trainer interface
func (s *Synthetic) RunEpoch(epoch int) error {
	if epoch < 0 || epoch >= s.config.Epochs {
		return fmt.Errorf("runepoch: epoch %d out of range [0, %d)", epoch,
			s.config.Epochs)
	}
	s.state.SetEpoch(epoch)

	lr := s.learningRate()
	s.loss = floatutils.Clip(s.loss*(1-s.efficiency(lr))+s.noise.Rand(),
		0.01, 10.0)

	progress := float64(epoch+1) / float64(s.config.Epochs)
	s.gap = s.config.OverfitRate * progress * progress * (1 - s.loss)
	valLoss := s.loss + math.Abs(s.gap) + math.Abs(s.noise.Rand())

	s.dice = floatutils.Clip(1-valLoss, 0, 1)

	s.state.RecordMetric("loss", s.loss)
	s.state.RecordMetric("val_loss", valLoss)
	s.state.RecordMetric("dice_score", s.dice)

	weights := s.classWeights()
	for i, w := range weights {
		miss := math.Abs(w - s.config.IdealClassWeights[i])
		dice := floatutils.Clip(s.dice-0.1*miss+s.noise.Rand(), 0, 1)
		s.state.RecordMetric(fmt.Sprintf("dice_class_%d", i), dice)
	}

	logrus.Debugf("epoch %d: lr %.6f loss %.4f val_loss %.4f dice %.4f",
		epoch, lr, s.loss, valLoss, s.dice)
	return nil
}

// Step implements the Trainer interface
func (s *Synthetic) Step(t timestep.TimeStep) error {
	s.state.SetStep(t.Number)

	h, w := s.config.Height, s.config.Width
	side := math.Sqrt(s.config.FGRatio)
	fgRows := max(1, int(side*float64(h)*(0.75+0.5*s.rng.Float64())))
	fgCols := max(1, int(side*float64(w)*(0.75+0.5*s.rng.Float64())))
	fgRows, fgCols = min(fgRows, h), min(fgCols, w)
	top := s.rng.Intn(h - fgRows + 1)
	left := s.rng.Intn(w - fgCols + 1)

	image := mat.NewDense(h, w, nil)
	mask := mat.NewDense(h, w, nil)
	prediction := mat.NewDense(h, w, nil)

	// Predictions of a better model sit further from 0.5 on the
	// correct side
	confidence := 0.5 * s.dice
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			fg := i >= top && i < top+fgRows && j >= left && j < left+fgCols

			intensity, target := 0.2, 0.0
			if fg {
				intensity, target = 0.8, 1.0
			}
			image.Set(i, j, floatutils.Clip(intensity+s.noise.Rand(), 0, 1))
			mask.Set(i, j, target)

			p := 0.5 - confidence
			if fg {
				p = 0.5 + confidence
			}
			p += 5 * s.noise.Rand()
			prediction.Set(i, j, floatutils.Clip(p, 0, 1))
		}
	}

	s.state.SetCurrentImage(image)
	s.state.SetCurrentMask(mask)
	s.state.SetCurrentPrediction(prediction)
	return nil
}

// Dice returns the dice score of the last epoch
func (s *Synthetic) Dice() float64 {
	return s.dice
}
