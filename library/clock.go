package library

import "time"

// Clock supplies "today". Core logic never reads the system clock itself.
type Clock interface {
	Today() Date
}

type SystemClock struct{}

func (SystemClock) Today() Date { return DateOf(time.Now()) }

// FixedClock always reports the same day.
type FixedClock Date

func (c FixedClock) Today() Date { return Date(c) }
