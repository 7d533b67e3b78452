package msgsync

// DefaultBottomThreshold is the viewport distance, in layout units, within
// which the view counts as scrolled to the bottom.
const DefaultBottomThreshold = 100

// ScrollPolicy decides whether tail appends should auto-scroll the message
// view. The UI reports viewport position; the session reports appends.
type ScrollPolicy struct {
	threshold  int
	distance   int
	wantScroll bool
}

// NewScrollPolicy builds a policy with the given bottom proximity
// threshold.
func NewScrollPolicy(threshold int) *ScrollPolicy {
	if threshold <= 0 {
		threshold = DefaultBottomThreshold
	}
	return &ScrollPolicy{threshold: threshold}
}

// SetDistanceFromBottom records the viewport's current distance from the
// bottom of the message list.
func (p *ScrollPolicy) SetDistanceFromBottom(d int) {
	if d < 0 {
		d = 0
	}
	p.distance = d
}

// NearBottom reports whether the viewport is within the proximity
// threshold.
func (p *ScrollPolicy) NearBottom() bool {
	return p.distance <= p.threshold
}

// OnAppend decides whether a tail append scrolls the view. Forced appends
// (the viewer's own send, an explicit conversation switch) bypass the
// proximity check.
func (p *ScrollPolicy) OnAppend(forced bool) bool {
	p.wantScroll = forced || p.NearBottom()
	if p.wantScroll {
		p.distance = 0
	}
	return p.wantScroll
}

// OnPrepend records that older history was loaded. Prepends never scroll.
func (p *ScrollPolicy) OnPrepend() bool {
	p.wantScroll = false
	return false
}

// WantScroll reports the outcome of the most recent append decision.
func (p *ScrollPolicy) WantScroll() bool { return p.wantScroll }
