package chrono

import (
	"time"
	_ "time/tzdata"
)

// API is the interface that anything depending on the system clock should use.
type API interface {
	// Now returns the current time in the portal's timezone.
	Now() time.Time
	Location() *time.Location
	// Sleep blocks the calling goroutine, it is not cancellable.
	Sleep(d time.Duration)
}

type StandardImpl struct {
	location *time.Location
}

// NewStandardImpl loads America/New_York, the timezone the county records are kept in.
func NewStandardImpl() (StandardImpl, error) {
	location, err := time.LoadLocation("America/New_York")
	if err != nil {
		return StandardImpl{}, err
	}
	return StandardImpl{location: location}, nil
}

func (s StandardImpl) Now() time.Time {
	return time.Now().In(s.location)
}

func (s StandardImpl) Location() *time.Location {
	return s.location
}

func (s StandardImpl) Sleep(d time.Duration) {
	time.Sleep(d)
}

// FakeImpl is a manually driven clock, Sleep advances the clock instead of blocking.
type FakeImpl struct {
	Current time.Time
	Slept   []time.Duration
}

func (f *FakeImpl) Now() time.Time {
	return f.Current
}

func (f *FakeImpl) Location() *time.Location {
	return f.Current.Location()
}

func (f *FakeImpl) Sleep(d time.Duration) {
	f.Slept = append(f.Slept, d)
	f.Current = f.Current.Add(d)
}
