package usecase

// FollowThreshold is how close to the bottom (in lines) the viewport must be
// for auto-follow to hold.
const FollowThreshold = 3

// FollowController decides whether the chat viewport should stick to the
// newest content. It is pure derived state: no network, no storage, no
// clock. The UI feeds it scroll offsets and store state and asks
// ShouldFollow before rendering.
type FollowController struct {
	threshold    int
	following    bool
	scrolledAway bool
}

// NewFollowController creates a controller that starts in the following
// state, as a freshly opened conversation is pinned to the bottom.
func NewFollowController() *FollowController {
	return &FollowController{threshold: FollowThreshold, following: true}
}

// Observe updates the decision from the latest render pass.
// offsetFromBottom is the viewport's distance from the newest line.
func (f *FollowController) Observe(offsetFromBottom int, streaming bool) {
	if f.scrolledAway {
		return
	}
	if streaming && offsetFromBottom <= f.threshold {
		f.following = true
	}
}

// UserScrolled records a user-initiated scroll. Moving beyond the proximity
// threshold suspends following; returning to the bottom resumes it.
func (f *FollowController) UserScrolled(offsetFromBottom int) {
	if offsetFromBottom > f.threshold {
		f.scrolledAway = true
		f.following = false
		return
	}
	f.scrolledAway = false
	f.following = true
}

// MessageStarted resumes following when a new message begins, regardless of
// where the user had scrolled.
func (f *FollowController) MessageStarted() {
	f.scrolledAway = false
	f.following = true
}

// ShouldFollow reports the current auto-scroll decision.
func (f *FollowController) ShouldFollow() bool {
	return f.following
}
