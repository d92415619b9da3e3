package pacing_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/myokit/beta/internal/pacing"
)

var _ = Describe("FixedPacing", func() {
	var fp *pacing.FixedPacing

	BeforeEach(func() {
		fp = pacing.NewFixedPacing()
	})

	It("rejects a non-monotonic series", func() {
		err := fp.Populate([]pacing.Sample{{Time: 0, Value: 0}, {Time: 0, Value: 1}})
		Expect(err).To(MatchError(pacing.ErrInvalidPacing))
	})

	Context("with a simple ramp", func() {
		BeforeEach(func() {
			Expect(fp.Populate([]pacing.Sample{
				{Time: 0, Value: 0},
				{Time: 10, Value: 10},
			})).To(Succeed())
		})

		It("interpolates linearly between samples", func() {
			Expect(fp.Advance(5)).To(Succeed())
			Expect(fp.Level()).To(Equal(5.0))
		})

		It("clamps below the first sample", func() {
			Expect(fp.Advance(-5)).To(Succeed())
			Expect(fp.Level()).To(Equal(0.0))
		})

		It("clamps above the last sample", func() {
			Expect(fp.Advance(15)).To(Succeed())
			Expect(fp.Level()).To(Equal(10.0))
		})

		It("never reports a discontinuity", func() {
			Expect(fp.Advance(5)).To(Succeed())
			_, ok := fp.NextTime()
			Expect(ok).To(BeFalse())
		})
	})
})
