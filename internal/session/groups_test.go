package session

import "testing"

func TestGroupRegistryJoinAndPodsIn(t *testing.T) {
	g := NewGroupRegistry()
	g.Join("room-1", "pod-a")
	g.Join("room-1", "pod-b")

	pods := g.PodsIn("room-1")
	if len(pods) != 2 {
		t.Fatalf("PodsIn = %v, want 2 members", pods)
	}
}

func TestGroupRegistryGroupsOf(t *testing.T) {
	g := NewGroupRegistry()
	g.Join("room-1", "pod-a")
	g.Join("room-2", "pod-a")

	groups := g.GroupsOf("pod-a")
	if len(groups) != 2 {
		t.Fatalf("GroupsOf = %v, want 2 groups", groups)
	}
}

func TestGroupRegistryLeaveRemovesEmptyGroup(t *testing.T) {
	g := NewGroupRegistry()
	g.Join("room-1", "pod-a")
	g.Leave("room-1", "pod-a")

	if pods := g.PodsIn("room-1"); len(pods) != 0 {
		t.Errorf("PodsIn after leave = %v, want empty", pods)
	}
	if groups := g.GroupsOf("pod-a"); len(groups) != 0 {
		t.Errorf("GroupsOf after leave = %v, want empty", groups)
	}
}

func TestGroupRegistryRemoveAllDropsEveryMembership(t *testing.T) {
	g := NewGroupRegistry()
	g.Join("room-1", "pod-a")
	g.Join("room-2", "pod-a")
	g.Join("room-2", "pod-b")

	g.RemoveAll("pod-a")

	if groups := g.GroupsOf("pod-a"); len(groups) != 0 {
		t.Errorf("GroupsOf after RemoveAll = %v, want empty", groups)
	}
	if pods := g.PodsIn("room-2"); len(pods) != 1 || pods[0] != "pod-b" {
		t.Errorf("PodsIn(room-2) = %v, want only pod-b left", pods)
	}
}

func TestGroupRegistryRemoveAllIgnoresEmptyPodID(t *testing.T) {
	g := NewGroupRegistry()
	g.Join("room-1", "pod-a")

	g.RemoveAll("")

	if pods := g.PodsIn("room-1"); len(pods) != 1 {
		t.Errorf("PodsIn(room-1) = %v, want untouched membership", pods)
	}
}
