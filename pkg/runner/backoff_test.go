package runner

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestBackoff(t *testing.T) {
	Convey("Given the default schedule", t, func() {
		b := NewBackoff(nil)

		Convey("the first attempt is immediate", func() {
			So(b.Delay(), ShouldEqual, time.Duration(0))
		})

		Convey("failures walk the schedule and stay on the last entry", func() {
			var delays []time.Duration
			for i := 0; i < 7; i++ {
				delays = append(delays, b.Failure())
			}
			So(delays, ShouldResemble, []time.Duration{
				2 * time.Second, 4 * time.Second, 6 * time.Second,
				8 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second,
			})
		})

		Convey("a success starts over", func() {
			b.Failure()
			b.Failure()
			b.Success()
			So(b.Delay(), ShouldEqual, time.Duration(0))
			So(b.Failure(), ShouldEqual, 2*time.Second)
		})
	})

	Convey("Given a single entry schedule", t, func() {
		b := NewBackoff([]time.Duration{time.Second})
		So(b.Delay(), ShouldEqual, time.Second)
		So(b.Failure(), ShouldEqual, time.Second)
	})
}
