package model

import "math"

// BeelerReuter returns the compiled-in cardiac action-potential model this
// module ships as its example cell: four transmembrane currents (fast
// sodium, slow inward calcium, time-independent and time-dependent
// potassium) driving a single-compartment membrane, in the tradition of
// the classic Beeler & Reuter (1977) ventricular myocyte model. It exists
// to exercise every naming rule in spec.md §6 ("membrane.V", "dot(ina.m)",
// "ina.INa", "engine.time", "engine.pace") against a real multi-current
// cardiac dynamical system rather than a toy scalar decay.
//
// States: membrane.V, ina.m, ina.h, ina.j, isi.d, isi.f, ix1.x1,
// calcium_concentration.Cai.

// restingPotential is the resting membrane potential the shipped default
// state is built around: spec.md §8 scenario 1 requires an unstimulated
// cell to stay within 1e-6 mV of this value for the whole run, so it must
// be an exact fixed point of Derive, not an approximation of one.
const restingPotential = -84.5286

func BeelerReuter() Definition {
	gNa, gNaC, eNa := 4.0, 0.003, 50.0
	gs := 0.09
	m0, h0, j0, d0, f0, x10, cai0, gk1x := restingState(gNa, gNaC, eNa, gs)

	return Definition{
		Name: "beeler_reuter_1977",
		StateNames: []string{
			"membrane.V",
			"ina.m", "ina.h", "ina.j",
			"isi.d", "isi.f",
			"ix1.x1",
			"calcium_concentration.Cai",
		},
		DefaultStates: []float64{
			restingPotential,
			m0, h0, j0,
			d0, f0,
			x10,
			cai0,
		},
		LiteralNames: []string{
			"membrane.C",
			"ina.gNa", "ina.gNaC", "ina.ENa",
			"isi.gs",
			"ik1.gK1x",
		},
		DefaultLiterals: []float64{
			1.0,
			gNa, gNaC, eNa,
			gs,
			gk1x,
		},
		ParameterNames:    []string{"membrane.stim_amplitude"},
		DefaultParameters: []float64{-80.0},
		IntermediaryNames: []string{
			"ina.INa",
			"isi.Isi", "isi.Es",
			"ik1.IK1",
			"ix1.Ix1",
			"membrane.Istim",
		},
		NPace: 1,
		Derive: func(t float64, pace, states, literals, literalDerived, parameters, parameterDerived, intermediary, deriv []float64) {
			v := states[0]
			m, h, j := states[1], states[2], states[3]
			d, f := states[4], states[5]
			x1 := states[6]
			cai := states[7]

			cm := literals[0]
			gNa, gNaC, eNa := literals[1], literals[2], literals[3]
			gs := literals[4]
			gk1x := literals[5]
			stimAmplitude := parameters[0]

			iNa := inaCurrent(v, m, h, j, gNa, gNaC, eNa)
			iSi, es := isiCurrent(v, d, f, cai, gs)
			ik1 := gk1x * ik1Shape(v)
			ix1 := ix1Current(v, x1)
			istim := stimAmplitude * pace0(pace)

			intermediary[0] = iNa
			intermediary[1] = iSi
			intermediary[2] = es
			intermediary[3] = ik1
			intermediary[4] = ix1
			intermediary[5] = istim

			deriv[0] = -(iNa + iSi + ik1 + ix1 + istim) / cm

			am, bm, ah, bh, aj, bj := naRates(v)
			ad, bd, af, bf := siRates(v)
			ax1, bx1 := x1Rates(v)

			deriv[1] = am*(1-m) - bm*m
			deriv[2] = ah*(1-h) - bh*h
			deriv[3] = aj*(1-j) - bj*j
			deriv[4] = ad*(1-d) - bd*d
			deriv[5] = af*(1-f) - bf*f
			deriv[6] = ax1*(1-x1) - bx1*x1
			deriv[7] = -1e-7*iSi + 0.07*(1e-7-cai)
		},
	}
}

func pace0(pace []float64) float64 {
	if len(pace) == 0 {
		return 0
	}
	return pace[0]
}

// ramp evaluates x/(exp(k*x)-1) with the removable singularity at x==0
// handled by its limit 1/k, the way the Beeler-Reuter alpha_m rate
// expression is conventionally guarded.
func ramp(x, k float64) float64 {
	d := math.Exp(k*x) - 1
	if math.Abs(d) < 1e-10 {
		return 1.0 / k
	}
	return x / d
}

// naRates returns the fast-sodium gate rate constants at V.
func naRates(v float64) (am, bm, ah, bh, aj, bj float64) {
	am = -ramp(v+47, -0.1)
	bm = 40 * math.Exp(-0.056*(v+72))
	ah = 0.126 * math.Exp(-0.25*(v+77))
	bh = 1.7 / (math.Exp(-0.082*(v+22.5)) + 1)
	aj = 0.055 * math.Exp(-0.25*(v+78)) / (math.Exp(-0.2*(v+78)) + 1)
	bj = 0.3 / (math.Exp(-0.1*(v+32)) + 1)
	return
}

// siRates returns the slow-inward-current gate rate constants at V.
func siRates(v float64) (ad, bd, af, bf float64) {
	ad = 0.095 * math.Exp(-0.01*(v-5)) / (math.Exp(-0.072*(v-5)) + 1)
	bd = 0.07 * math.Exp(-0.017*(v+44)) / (math.Exp(0.05*(v+44)) + 1)
	af = 0.012 * math.Exp(-0.008*(v+28)) / (math.Exp(0.15*(v+28)) + 1)
	bf = 0.0065 * math.Exp(-0.02*(v+30)) / (math.Exp(-0.2*(v+30)) + 1)
	return
}

// x1Rates returns the time-dependent-potassium gate rate constants at V.
func x1Rates(v float64) (ax1, bx1 float64) {
	ax1 = 0.0005 * math.Exp(0.083*(v+50)) / (math.Exp(0.057*(v+50)) + 1)
	bx1 = 0.0013 * math.Exp(-0.06*(v+20)) / (math.Exp(-0.04*(v+20)) + 1)
	return
}

// steadyGate is the fixed point of dx/dt = alpha*(1-x) - beta*x.
func steadyGate(alpha, beta float64) float64 {
	return alpha / (alpha + beta)
}

func inaCurrent(v, m, h, j, gNa, gNaC, eNa float64) float64 {
	return (gNa*m*m*m*h*j + gNaC) * (v - eNa)
}

// isiCurrent returns the slow inward current and its Nernst-like reversal
// potential Es, clamping Cai away from zero to keep the log finite.
func isiCurrent(v, d, f, cai, gs float64) (isi, es float64) {
	caiSafe := cai
	if caiSafe < 1e-12 {
		caiSafe = 1e-12
	}
	es = -82.3 - 13.0287*math.Log(caiSafe)
	isi = gs * d * f * (v - es)
	return
}

// ik1Shape is the time-independent potassium current with its gK1x scale
// factored out, so the scale can be solved for independently of V.
func ik1Shape(v float64) float64 {
	return 4.0*(math.Exp(0.04*(v+85))-1)/(math.Exp(0.08*(v+53))+math.Exp(0.04*(v+53))) -
		0.2*ramp(v+23, -0.04)
}

func ix1Current(v, x1 float64) float64 {
	return x1 * 0.8 * (math.Exp(0.04*(v+77)) - 1) / math.Exp(0.04*(v+35))
}

// restingState solves for the gating variables, Cai, and the ik1.gK1x scale
// that together make restingPotential an exact fixed point of Derive with
// no stimulus current: the gates are set to their closed-form steady state
// alpha/(alpha+beta), Cai is driven to its self-consistent value by
// successive substitution against Es(Cai), and gK1x, which enters the
// current balance linearly, is solved in closed form so the four
// transmembrane currents sum to zero. This is what spec.md §8 scenario 1
// ("unstimulated cell stays within 1e-6 of -84.5286") requires the shipped
// default state to already satisfy, rather than approximate.
func restingState(gNa, gNaC, eNa, gs float64) (m, h, j, d, f, x1, cai, gk1x float64) {
	v := restingPotential

	am, bm, ah, bh, aj, bj := naRates(v)
	m, h, j = steadyGate(am, bm), steadyGate(ah, bh), steadyGate(aj, bj)

	ad, bd, af, bf := siRates(v)
	d, f = steadyGate(ad, bd), steadyGate(af, bf)

	ax1, bx1 := x1Rates(v)
	x1 = steadyGate(ax1, bx1)

	cai = 1e-7
	var isi float64
	for i := 0; i < 100; i++ {
		isi, _ = isiCurrent(v, d, f, cai, gs)
		next := 1e-7 - (1e-7/0.07)*isi
		if next < 1e-12 {
			next = 1e-12
		}
		if math.Abs(next-cai) < 1e-18 {
			cai = next
			break
		}
		cai = next
	}
	isi, _ = isiCurrent(v, d, f, cai, gs)

	iNa := inaCurrent(v, m, h, j, gNa, gNaC, eNa)
	ix1 := ix1Current(v, x1)
	gk1x = -(iNa + isi + ix1) / ik1Shape(v)
	return
}
