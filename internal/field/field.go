// Package field tracks a coherence triad over a series of signal qualities
// and scores free text for the critique loop.
package field

import (
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/danielpatrickdp/metacog/go-controller/internal/metric"
)

// #region config
// FieldConfig tunes the triad dynamics.
type FieldConfig struct {
	EMAAlpha         float64 `yaml:"ema_alpha"`         // smoothing of the kappa trace
	DriftSensitivity float64 `yaml:"drift_sensitivity"` // weight on delta-phi
	GainRate         float64 `yaml:"gain_rate"`         // omega ramp per unit drift
	RepairBias       float64 `yaml:"repair_bias"`       // floor of omega
}

// DefaultFieldConfig returns the reference tuning.
func DefaultFieldConfig() FieldConfig {
	return FieldConfig{
		EMAAlpha:         0.15,
		DriftSensitivity: 1.0,
		GainRate:         0.35,
		RepairBias:       0.10,
	}
}

// #endregion config

// #region field
// Triad is one step of the field: coherence, deviation and recovery gain.
type Triad struct {
	Kappa    float64 `json:"kappa"`
	DeltaPhi float64 `json:"delta_phi"`
	Omega    float64 `json:"omega"`
}

// Field carries the triad between steps. Not safe for concurrent use.
type Field struct {
	config FieldConfig
	t      int
	state  Triad
}

// NewField starts fully coherent.
func NewField(config FieldConfig) *Field {
	return &Field{config: config, state: Triad{Kappa: 1}}
}

// Step advances one tick with a signal quality in [0,1].
func (f *Field) Step(signal float64) Triad {
	s := metric.Unit(signal)
	c := f.config

	kappa := c.EMAAlpha*s + (1-c.EMAAlpha)*f.state.Kappa
	deltaPhi := metric.Unit((1 - s) * c.DriftSensitivity)
	omega := metric.Unit(c.RepairBias + deltaPhi*c.GainRate)

	f.t++
	f.state = Triad{Kappa: kappa, DeltaPhi: deltaPhi, Omega: omega}
	return f.state
}

// Run steps through series and returns every triad.
func (f *Field) Run(series []float64) []Triad {
	out := make([]Triad, len(series))
	for i, x := range series {
		out[i] = f.Step(x)
	}
	return out
}

// Ticks returns how many steps have run.
func (f *Field) Ticks() int { return f.t }

// State returns the latest triad.
func (f *Field) State() Triad { return f.state }

// #endregion field

// #region glyph
// Glyph labels a triad for human-readable diagnostics.
func Glyph(t Triad) string {
	switch {
	case t.Kappa > 0.9 && t.DeltaPhi < 0.1:
		return "harmonic"
	case t.DeltaPhi > 0.5:
		return "deviation"
	case t.Omega > 1.2:
		return "overload"
	default:
		return "equilibrium"
	}
}

// #endregion glyph

// #region score-text
// ScoreText is a cheap coherence estimate in [0.05, 1] built from the share
// of punctuation and capitals per whitespace token.
func ScoreText(text string) float64 {
	tokens := max(1, len(strings.Fields(text)))
	marks := 0
	for _, r := range text {
		if unicode.IsUpper(r) || strings.ContainsRune(".?!,;:", r) {
			marks++
		}
	}
	return metric.Clamp(0.35+0.15*math.Tanh(float64(marks)/float64(tokens)), 0.05, 1)
}

// Report is the sentence-level coherence analysis of a text.
type Report struct {
	Triad
	Overall float64 `json:"overall"`
	Flag    string  `json:"flag"`
}

var sentenceBoundary = regexp.MustCompile(`[.?!]\s+`)

// Analyze runs a fresh field over the word overlap of consecutive sentences.
// keywords earn a bonus of up to 0.2 for sentences mentioning them.
func Analyze(text string, keywords []string) Report {
	sentences := splitSentences(text)
	series := []float64{1}
	if len(sentences) > 1 {
		series = series[:0]
		for i := 1; i < len(sentences); i++ {
			series = append(series, overlap(sentences[i-1], sentences[i]))
		}
	}
	last := NewField(DefaultFieldConfig()).Run(series)[len(series)-1]

	var bonus float64
	if len(keywords) > 0 && len(sentences) > 0 {
		hits := 0
		for _, s := range sentences {
			ls := strings.ToLower(s)
			for _, kw := range keywords {
				if strings.Contains(ls, strings.ToLower(kw)) {
					hits++
					break
				}
			}
		}
		bonus = math.Min(float64(hits)/float64(len(sentences)), 0.2)
	}

	inverted := 1 - last.DeltaPhi
	flag := "OK"
	if last.DeltaPhi > last.Omega {
		flag = "LOW_COH"
	}
	if bonus < 0.1 {
		flag += "_ETHICAL_DRIFT"
	}
	return Report{
		Triad:   Triad{Kappa: last.Kappa, DeltaPhi: inverted, Omega: last.Omega},
		Overall: metric.Unit((last.Kappa+inverted+last.Omega)/3 + bonus),
		Flag:    flag,
	}
}

func splitSentences(text string) []string {
	var out []string
	for _, s := range sentenceBoundary.Split(strings.TrimSpace(text), -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// overlap is the Jaccard similarity of the lowercase word sets of a and b.
func overlap(a, b string) float64 {
	wa, wb := words(a), words(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(wa)+len(wb)-inter)
}

func words(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[w] = struct{}{}
	}
	return out
}

// #endregion score-text
