package pacing_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/myokit/beta/internal/pacing"
)

var _ = Describe("EventPacing", func() {
	var ep *pacing.EventPacing

	BeforeEach(func() {
		ep = pacing.NewEventPacing()
	})

	Describe("Populate validation", func() {
		It("rejects negative duration", func() {
			err := ep.Populate([]pacing.EventRecord{{Start: 0, Duration: -1}})
			Expect(err).To(MatchError(pacing.ErrInvalidPacing))
		})

		It("rejects negative period", func() {
			err := ep.Populate([]pacing.EventRecord{{Start: 0, Period: -1}})
			Expect(err).To(MatchError(pacing.ErrInvalidPacing))
		})

		It("rejects negative multiplier", func() {
			err := ep.Populate([]pacing.EventRecord{{Start: 0, Multiplier: -1}})
			Expect(err).To(MatchError(pacing.ErrInvalidPacing))
		})

		It("accepts an empty schedule", func() {
			Expect(ep.Populate(nil)).To(Succeed())
			Expect(ep.Level()).To(Equal(0.0))
		})
	})

	Describe("a single non-recurring stimulus", func() {
		BeforeEach(func() {
			Expect(ep.Populate([]pacing.EventRecord{
				{Start: 10, Duration: 2, Level: 1},
			})).To(Succeed())
		})

		It("is zero before the event starts", func() {
			Expect(ep.Advance(0)).To(Succeed())
			Expect(ep.Level()).To(Equal(0.0))
		})

		It("is active during the window", func() {
			Expect(ep.Advance(10)).To(Succeed())
			Expect(ep.Level()).To(Equal(1.0))
			Expect(ep.Advance(11.5)).To(Succeed())
			Expect(ep.Level()).To(Equal(1.0))
		})

		It("is zero again after the window ends", func() {
			Expect(ep.Advance(12)).To(Succeed())
			Expect(ep.Level()).To(Equal(0.0))
		})

		It("reports the window boundaries as the next discontinuities", func() {
			Expect(ep.Advance(0)).To(Succeed())
			next, ok := ep.NextTime()
			Expect(ok).To(BeTrue())
			Expect(next).To(Equal(10.0))

			Expect(ep.Advance(10)).To(Succeed())
			next, ok = ep.NextTime()
			Expect(ok).To(BeTrue())
			Expect(next).To(Equal(12.0))
		})
	})

	Describe("a periodic stimulus", func() {
		BeforeEach(func() {
			Expect(ep.Populate([]pacing.EventRecord{
				{Start: 10, Duration: 2, Period: 500, Multiplier: 2, Level: 1},
			})).To(Succeed())
		})

		It("fires exactly twice", func() {
			Expect(ep.Advance(10)).To(Succeed())
			Expect(ep.Level()).To(Equal(1.0))
			Expect(ep.Advance(510)).To(Succeed())
			Expect(ep.Level()).To(Equal(1.0))
			Expect(ep.Advance(1010)).To(Succeed())
			Expect(ep.Level()).To(Equal(0.0))
		})

		It("has no next discontinuity beyond the last occurrence", func() {
			Expect(ep.Advance(513)).To(Succeed())
			next, ok := ep.NextTime()
			Expect(ok).To(BeFalse())
			_ = next
		})
	})

	Describe("overlapping events", func() {
		BeforeEach(func() {
			Expect(ep.Populate([]pacing.EventRecord{
				{Start: 0, Duration: 100, Level: 1},
				{Start: 10, Duration: 5, Level: 2},
			})).To(Succeed())
		})

		It("prefers the latest-starting active event", func() {
			Expect(ep.Advance(12)).To(Succeed())
			Expect(ep.Level()).To(Equal(2.0))
		})

		It("falls back once the later event ends", func() {
			Expect(ep.Advance(16)).To(Succeed())
			Expect(ep.Level()).To(Equal(1.0))
		})
	})
})
