package pacer

import (
	"fmt"
	"time"
)

// Profile selects a pacing strategy. The set is closed: a session is created
// with one profile and keeps it for its lifetime.
type Profile string

const (
	// ProfileBasic releases frames as soon as they are available.
	ProfileBasic Profile = "basic"

	// ProfileEnhanced releases at the predicted interval scaled by a
	// tolerance, absorbing short arrival gaps.
	ProfileEnhanced Profile = "enhanced"

	// ProfileUltra adds a bounded max-step correction so the release cadence
	// moves toward the predicted interval gradually instead of jumping.
	ProfileUltra Profile = "ultra"

	// ProfileCinema holds a fixed cadence derived from the target frame rate
	// and re-emits the last frame when the upstream stalls past the grace
	// period.
	ProfileCinema Profile = "cinema"
)

// Params are the per-profile pacing constants. Tolerance scales the release
// interval (lower is stricter cadence), MaxPending caps how many frames a
// strategy lets accumulate before it stops sleeping to catch up, and
// MicroDelay is the floor delay applied even when a frame is released
// immediately.
type Params struct {
	Window     int
	Tolerance  float64
	MaxPending int
	MicroDelay time.Duration
}

var profileParams = map[Profile]Params{
	ProfileBasic:    {Window: 5, Tolerance: 0.8, MaxPending: 2, MicroDelay: time.Millisecond},
	ProfileEnhanced: {Window: 8, Tolerance: 0.75, MaxPending: 3, MicroDelay: 500 * time.Microsecond},
	ProfileUltra:    {Window: 10, Tolerance: 0.7, MaxPending: 5, MicroDelay: 300 * time.Microsecond},
	ProfileCinema:   {Window: 15, Tolerance: 0.65, MaxPending: 8, MicroDelay: 100 * time.Microsecond},
}

// ParseProfile validates a profile name.
func ParseProfile(s string) (Profile, error) {
	p := Profile(s)
	if _, ok := profileParams[p]; !ok {
		return "", fmt.Errorf("unknown smoothing profile %q", s)
	}
	return p, nil
}

// ParamsFor returns the pacing constants for a profile. Unknown profiles fall
// back to ultra, matching the upstream selection default.
func ParamsFor(p Profile) Params {
	if params, ok := profileParams[p]; ok {
		return params
	}
	return profileParams[ProfileUltra]
}

// Profiles lists the valid profile names.
func Profiles() []Profile {
	return []Profile{ProfileBasic, ProfileEnhanced, ProfileUltra, ProfileCinema}
}

func (p Profile) String() string {
	return string(p)
}
