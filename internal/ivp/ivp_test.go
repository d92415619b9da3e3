package ivp

import (
	"math"
	"testing"
)

// decay is y' = -y, a trivially stiff-adjacent scalar test system with a
// known analytic solution, in the style of the teacher's testDynamics in
// internal/sim/simulator_test.go.
type decay struct{}

func (decay) Dim() int { return 1 }
func (decay) Derive(t float64, y, dy []float64) { dy[0] = -y[0] }

func TestStepConvergesTowardAnalyticSolution(t *testing.T) {
	s, err := New(decay{}, 0, []float64{1}, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tEnd := 2.0
	for s.T() < tEnd {
		if _, _, err := s.Step(tEnd); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	want := math.Exp(-s.T())
	if math.Abs(s.Y()[0]-want) > 1e-3 {
		t.Errorf("y(%v) = %v, want ~%v", s.T(), s.Y()[0], want)
	}
}

func TestStepRejectsTooCloseTimes(t *testing.T) {
	s, _ := New(decay{}, 0, []float64{1}, DefaultConfig())
	if _, _, err := s.Step(0); err == nil {
		t.Fatal("expected error advancing to the current time")
	}
}

func TestReinitResetsHistory(t *testing.T) {
	s, _ := New(decay{}, 0, []float64{1}, DefaultConfig())
	s.Step(0.1)
	s.Step(0.2)
	if err := s.Reinit(1.0, []float64{0.5}); err != nil {
		t.Fatalf("Reinit: %v", err)
	}
	if s.T() != 1.0 || s.Y()[0] != 0.5 {
		t.Fatalf("Reinit did not update state: t=%v y=%v", s.T(), s.Y())
	}
	if s.haveHist {
		t.Fatal("Reinit did not discard step history")
	}
}

func TestRootFunctionDetectsCrossing(t *testing.T) {
	s, _ := New(decay{}, 0, []float64{1}, DefaultConfig())
	if err := s.SetRootFunction(0, 0.5); err != nil {
		t.Fatalf("SetRootFunction: %v", err)
	}
	var found *RootEvent
	for i := 0; i < 200 && s.T() < 2 && found == nil; i++ {
		_, root, err := s.Step(2)
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if root != nil {
			found = root
		}
	}
	if found == nil {
		t.Fatal("expected a root crossing as y decays through 0.5")
	}
	if found.Direction != -1 {
		t.Errorf("expected downward crossing direction -1, got %d", found.Direction)
	}
}

func TestDenseOutputInterpolatesWithinLastStep(t *testing.T) {
	s, _ := New(decay{}, 0, []float64{1}, DefaultConfig())
	s.Step(0.05)
	tPrev, tCur := s.tPrev, s.t
	mid := (tPrev + tCur) / 2
	y, _ := s.DenseOutput(mid)
	if y[0] > s.yPrev[0] || y[0] < s.y[0] {
		t.Errorf("dense output %v not between step endpoints %v and %v", y[0], s.yPrev[0], s.y[0])
	}
}
