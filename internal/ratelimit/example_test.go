package ratelimit_test

import (
	"context"
	"fmt"
	"time"

	"conductor/internal/config"
	"conductor/internal/ratelimit"
)

func ExamplePacer() {
	p := ratelimit.NewPacer(ratelimit.NewSchedule(config.ThrottleConfig{Rate: 50}))

	start := time.Now()
	for range 5 {
		if err := p.Wait(context.Background()); err != nil {
			fmt.Println(err)
			return
		}
	}
	fmt.Printf("5 steps at %.0f/s, none delayed: %v\n", p.Rate(), time.Since(start) < 100*time.Millisecond)
	// Output: 5 steps at 50/s, none delayed: true
}

func ExampleSchedule_CurrentPhase() {
	s := ratelimit.NewSchedule(config.ThrottleConfig{
		Phases: []config.ThrottlePhase{
			{Name: "login", Duration: 10 * time.Second, StartRate: 1, EndRate: 5},
			{Name: "checkout", Duration: 30 * time.Second, Rate: 20},
		},
	})

	fmt.Printf("%s at %.0f steps/s\n", s.CurrentPhase().Name, s.CurrentRate())
	// Output: login at 1 steps/s
}
