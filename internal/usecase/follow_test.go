package usecase

import "testing"

func TestFollowStartsFollowing(t *testing.T) {
	f := NewFollowController()
	if !f.ShouldFollow() {
		t.Error("fresh controller should follow")
	}
}

func TestFollowSuspendsOnScrollAway(t *testing.T) {
	f := NewFollowController()

	f.UserScrolled(FollowThreshold + 1)
	if f.ShouldFollow() {
		t.Error("should suspend after scrolling past threshold")
	}

	// Streaming activity near the bottom does not override the user.
	f.Observe(0, true)
	if f.ShouldFollow() {
		t.Error("observe must not resume while scrolled away")
	}
}

func TestFollowResumesAtBottom(t *testing.T) {
	f := NewFollowController()

	f.UserScrolled(50)
	f.UserScrolled(FollowThreshold) // back within threshold
	if !f.ShouldFollow() {
		t.Error("returning to the bottom should resume following")
	}
}

func TestFollowResumesOnNewMessage(t *testing.T) {
	f := NewFollowController()

	f.UserScrolled(100)
	f.MessageStarted()
	if !f.ShouldFollow() {
		t.Error("a new message start should resume following")
	}
}

func TestFollowHoldsNearBottomWhileStreaming(t *testing.T) {
	f := NewFollowController()

	f.Observe(FollowThreshold, true)
	if !f.ShouldFollow() {
		t.Error("should keep following within the proximity threshold")
	}
}
