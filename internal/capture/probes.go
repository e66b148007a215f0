// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package capture

import "context"

// The concrete window/URL/screen probes are desktop-environment specific
// (Win32, X11, Wayland portals) and ship as separate build-tagged
// implementations or plugins. These fallbacks keep the trackers inert on
// platforms without one: ErrProbeUnavailable makes every poll a no-op
// rather than a failure.

// UnavailableWindowProbe is the fallback WindowProbe.
type UnavailableWindowProbe struct{}

// ActiveWindow implements WindowProbe.
func (UnavailableWindowProbe) ActiveWindow(context.Context) (WindowInfo, error) {
	return WindowInfo{}, ErrProbeUnavailable
}

// UnavailableURLProbe is the fallback URLProbe.
type UnavailableURLProbe struct{}

// ActiveURL implements URLProbe.
func (UnavailableURLProbe) ActiveURL(context.Context) (URLInfo, error) {
	return URLInfo{}, ErrProbeUnavailable
}

// UnavailableGrabber is the fallback Grabber.
type UnavailableGrabber struct{}

// Grab implements Grabber.
func (UnavailableGrabber) Grab(context.Context) ([]byte, error) {
	return nil, ErrProbeUnavailable
}
