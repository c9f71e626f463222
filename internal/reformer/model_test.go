package reformer_test

import (
	"errors"
	"math"
	"testing"

	"github.com/revnet-ml/revnet/internal/autodiff"
	"github.com/revnet-ml/revnet/internal/backend/cpu"
	"github.com/revnet-ml/revnet/internal/nn"
	"github.com/revnet-ml/revnet/internal/reformer"
	"github.com/revnet-ml/revnet/internal/rng"
	"github.com/revnet-ml/revnet/internal/tensor"
)

type adB = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func testConfig() reformer.Config {
	return reformer.Config{
		VocabSize: 11,
		DModel:    8,
		DFF:       16,
		NHeads:    2,
		NLayers:   2,
		MaxLen:    16,
		FFChunks:  2,
		NSections: 2,
	}
}

func newModel(t *testing.T, cfg reformer.Config) (*reformer.ReformerLM[adB], adB) {
	t.Helper()
	backend := autodiff.New(cpu.New())
	model, err := reformer.NewReformerLM(cfg, 42, backend)
	if err != nil {
		t.Fatalf("NewReformerLM: %v", err)
	}
	return model, backend
}

func tokenIDs(t *testing.T, backend adB, data []int32, shape tensor.Shape) *tensor.Tensor[int32, adB] {
	t.Helper()
	ids, err := tensor.FromSlice(data, shape, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	return ids
}

func TestConfigValidate(t *testing.T) {
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		field  string
		mutate func(*reformer.Config)
	}{
		{"VocabSize", func(c *reformer.Config) { c.VocabSize = 0 }},
		{"DModel", func(c *reformer.Config) { c.DModel = -1 }},
		{"DFF", func(c *reformer.Config) { c.DFF = 0 }},
		{"NHeads", func(c *reformer.Config) { c.NHeads = 0 }},
		{"NHeads", func(c *reformer.Config) { c.NHeads = 3 }},
		{"NLayers", func(c *reformer.Config) { c.NLayers = 0 }},
		{"MaxLen", func(c *reformer.Config) { c.MaxLen = 0 }},
		{"Dropout", func(c *reformer.Config) { c.Dropout = 1 }},
		{"AttentionDropout", func(c *reformer.Config) { c.AttentionDropout = -0.5 }},
		{"AttentionBins", func(c *reformer.Config) { c.AttentionBins = -1 }},
		{"FFChunks", func(c *reformer.Config) { c.FFChunks = 0 }},
		{"NSections", func(c *reformer.Config) { c.NSections = 0 }},
	}
	for _, tc := range cases {
		cfg := testConfig()
		tc.mutate(&cfg)
		err := cfg.Validate()
		var cfgErr *nn.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Errorf("%s: got %v, want ConfigurationError", tc.field, err)
			continue
		}
		if cfgErr.Field != tc.field {
			t.Errorf("got field %q, want %q", cfgErr.Field, tc.field)
		}
	}
}

func TestForwardShape(t *testing.T) {
	model, backend := newModel(t, testConfig())
	ids := tokenIDs(t, backend, []int32{1, 2, 3, 4, 5, 6, 7, 8}, tensor.Shape{2, 4})

	logProbs, err := model.Forward(ids, rng.New(1))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !logProbs.Shape().Equal(tensor.Shape{2, 4, 11}) {
		t.Fatalf("shape = %v, want [2 4 11]", logProbs.Shape())
	}

	// Every position is a log-probability distribution.
	data := logProbs.Data()
	for row := 0; row < 8; row++ {
		var sum float64
		for j := 0; j < 11; j++ {
			sum += math.Exp(float64(data[row*11+j]))
		}
		if math.Abs(sum-1) > 1e-4 {
			t.Errorf("row %d: probabilities sum to %v", row, sum)
		}
	}
}

func TestForwardDeterministic(t *testing.T) {
	model, backend := newModel(t, testConfig())
	ids := tokenIDs(t, backend, []int32{3, 1, 4, 1}, tensor.Shape{1, 4})

	a, err := model.Forward(ids, rng.New(9))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	b, err := model.Forward(ids, rng.New(9))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	for i := range a.Data() {
		if a.Data()[i] != b.Data()[i] {
			t.Fatalf("element %d differs across identical passes", i)
		}
	}
}

func TestForwardShiftsTargets(t *testing.T) {
	model, backend := newModel(t, testConfig())

	base, err := model.Forward(tokenIDs(t, backend, []int32{3, 1, 4, 1}, tensor.Shape{1, 4}), rng.New(2))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	// The input is shifted right, so the last token never feeds the model
	// and position 0 sees only the start-of-sequence zero.
	lastChanged, err := model.Forward(tokenIDs(t, backend, []int32{3, 1, 4, 9}, tensor.Shape{1, 4}), rng.New(2))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	for i := range base.Data() {
		if base.Data()[i] != lastChanged.Data()[i] {
			t.Fatal("changing the final token should not change any prediction")
		}
	}

	firstChanged, err := model.Forward(tokenIDs(t, backend, []int32{9, 1, 4, 1}, tensor.Shape{1, 4}), rng.New(2))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	for j := 0; j < 11; j++ {
		if base.At(0, 0, j) != firstChanged.At(0, 0, j) {
			t.Fatal("position 0 should not depend on any real token")
		}
	}
	changed := false
	for j := 0; j < 11; j++ {
		if base.At(0, 1, j) != firstChanged.At(0, 1, j) {
			changed = true
			break
		}
	}
	if !changed {
		t.Error("position 1 should depend on the first token")
	}
}

func TestForwardErrors(t *testing.T) {
	model, backend := newModel(t, testConfig())

	if _, err := model.Forward(tokenIDs(t, backend, []int32{1, 2}, tensor.Shape{2}), rng.New(1)); err == nil {
		t.Error("rank-1 ids should fail")
	}

	long := make([]int32, 20)
	if _, err := model.Forward(tokenIDs(t, backend, long, tensor.Shape{1, 20}), rng.New(1)); err == nil {
		t.Error("sequence longer than MaxLen should fail")
	}

	// Sequence length must divide by NSections. Chunking is disabled so the
	// trunk itself accepts the odd length.
	cfg := testConfig()
	cfg.FFChunks = 1
	model, backend = newModel(t, cfg)
	if _, err := model.Forward(tokenIDs(t, backend, []int32{1, 2, 3}, tensor.Shape{1, 3}), rng.New(1)); err == nil {
		t.Error("sequence indivisible by NSections should fail")
	}
}

func TestForwardBackwardGradients(t *testing.T) {
	model, backend := newModel(t, testConfig())
	ids := tokenIDs(t, backend, []int32{3, 1, 4, 1}, tensor.Shape{1, 4})

	ct := tensor.Zeros[float32](tensor.Shape{1, 4, 11}, backend)
	rng.New(7).FillNormal(ct.Data())

	logProbs, err := model.ForwardBackward(ids, func(lp *tensor.Tensor[float32, adB]) *tensor.Tensor[float32, adB] {
		return ct
	}, rng.New(5))
	if err != nil {
		t.Fatalf("ForwardBackward: %v", err)
	}

	plain, err := model.Forward(ids, rng.New(5))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	for i := range plain.Data() {
		if d := math.Abs(float64(logProbs.Data()[i] - plain.Data()[i])); d > 1e-4 {
			t.Fatalf("element %d: backward-pass forward differs from plain forward by %v", i, d)
		}
	}

	params := model.Parameters()
	for _, p := range params {
		if p.Grad() == nil {
			t.Errorf("parameter %s has no gradient", p.Name())
		}
	}

	// Spot-check a few gradients against central differences of
	// loss = sum(logProbs * ct).
	loss := func() float32 {
		out, ferr := model.Forward(ids, rng.New(5))
		if ferr != nil {
			t.Fatalf("Forward: %v", ferr)
		}
		return out.Mul(ct).Sum().Item()
	}
	check := func(name string, p *nn.Parameter[adB], indices []int) {
		data := p.Tensor().Data()
		grad := p.Grad().Data()
		for _, idx := range indices {
			orig := data[idx]
			data[idx] = orig + 1e-2
			plus := loss()
			data[idx] = orig - 1e-2
			minus := loss()
			data[idx] = orig
			want := (plus - minus) / 2e-2
			diff := math.Abs(float64(grad[idx] - want))
			scale := math.Max(1, math.Abs(float64(want)))
			if diff/scale > 5e-2 {
				t.Errorf("%s[%d]: grad %v, finite difference %v", name, idx, grad[idx], want)
			}
		}
	}
	// Embedding row 0 is the shifted-in start token, used by every batch.
	check("embedding", params[0], []int{0, 1, 2})
	check("head bias", params[len(params)-1], []int{0, 1})
	check("first block", params[1], []int{0, 1})
}

func TestForwardBackwardAccumulates(t *testing.T) {
	model, backend := newModel(t, testConfig())
	ids := tokenIDs(t, backend, []int32{2, 7, 1, 8}, tensor.Shape{1, 4})

	ct := tensor.Zeros[float32](tensor.Shape{1, 4, 11}, backend)
	rng.New(3).FillNormal(ct.Data())
	lossGrad := func(lp *tensor.Tensor[float32, adB]) *tensor.Tensor[float32, adB] { return ct }

	if _, err := model.ForwardBackward(ids, lossGrad, rng.New(1)); err != nil {
		t.Fatalf("ForwardBackward: %v", err)
	}
	p := model.Parameters()[len(model.Parameters())-1]
	first := append([]float32(nil), p.Grad().Data()...)

	if _, err := model.ForwardBackward(ids, lossGrad, rng.New(1)); err != nil {
		t.Fatalf("second ForwardBackward: %v", err)
	}
	for i, v := range p.Grad().Data() {
		want := 2 * first[i]
		if math.Abs(float64(v-want)) > 1e-4 {
			t.Fatalf("gradient %d: got %v, want %v", i, v, want)
		}
	}

	model.ZeroGrads()
	for _, p := range model.Parameters() {
		if p.Grad() != nil {
			t.Fatal("ZeroGrads left a gradient behind")
		}
	}
}

func TestBackwardMemoryConstantInDepth(t *testing.T) {
	run := func(layers int) int {
		cfg := testConfig()
		cfg.NLayers = layers
		model, backend := newModel(t, cfg)
		ids := tokenIDs(t, backend, []int32{1, 2, 3, 4}, tensor.Shape{1, 4})

		ct := tensor.Zeros[float32](tensor.Shape{1, 4, 11}, backend)
		rng.New(2).FillNormal(ct.Data())
		_, err := model.ForwardBackward(ids, func(lp *tensor.Tensor[float32, adB]) *tensor.Tensor[float32, adB] {
			return ct
		}, rng.New(4))
		if err != nil {
			t.Fatalf("ForwardBackward: %v", err)
		}
		return model.Chain().Stats().PeakLivePairs
	}

	shallow := run(1)
	deep := run(6)
	if deep != shallow {
		t.Errorf("peak live pairs grew with depth: %d layers -> %d, 1 layer -> %d", 6, deep, shallow)
	}
}

func TestModelVariants(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*reformer.Config)
	}{
		{"shared qk", func(c *reformer.Config) { c.ShareQK = true }},
		{"binned attention", func(c *reformer.Config) { c.AttentionBins = 2 }},
		{"single section", func(c *reformer.Config) { c.NSections = 1 }},
		{"unchunked ff", func(c *reformer.Config) { c.FFChunks = 1 }},
		{"training dropout", func(c *reformer.Config) {
			c.Train = true
			c.Dropout = 0.1
			c.AttentionDropout = 0.1
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			model, backend := newModel(t, cfg)
			ids := tokenIDs(t, backend, []int32{5, 2, 9, 6}, tensor.Shape{1, 4})

			logProbs, err := model.Forward(ids, rng.New(8))
			if err != nil {
				t.Fatalf("Forward: %v", err)
			}
			if !logProbs.Shape().Equal(tensor.Shape{1, 4, 11}) {
				t.Fatalf("shape = %v, want [1 4 11]", logProbs.Shape())
			}

			ct := tensor.Zeros[float32](tensor.Shape{1, 4, 11}, backend)
			rng.New(9).FillNormal(ct.Data())
			if _, err := model.ForwardBackward(ids, func(lp *tensor.Tensor[float32, adB]) *tensor.Tensor[float32, adB] {
				return ct
			}, rng.New(8)); err != nil {
				t.Fatalf("ForwardBackward: %v", err)
			}
			for _, p := range model.Parameters() {
				if p.Grad() == nil {
					t.Errorf("parameter %s has no gradient", p.Name())
				}
			}
		})
	}
}
