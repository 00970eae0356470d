package dcop

import "testing"

func TestNeighborsSortedByDegreeThenID(t *testing.T) {
	a := &Area{ID: 1, Neighbors: []Neighbor{
		{ID: 4, Degree: 1},
		{ID: 2, Degree: 3},
		{ID: 3, Degree: 3},
	}}
	got := a.NeighborsSorted()
	want := []AgentID{2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	except := a.NeighborsSortedExcept(2)
	if len(except) != 2 || except[0] != 3 || except[1] != 4 {
		t.Errorf("except: got %v, want [3 4]", except)
	}
}

func TestTauTooHighClauses(t *testing.T) {
	cases := []struct {
		devices int
		tau     int
		want    bool
	}{
		{0, 500, false},
		{1, 210, false},
		{1, 211, true},
		{6, 181, true},
		{6, 180, false},
		{5, 200, true}, // five devices already trip the 180 clause
		{5, 211, true},
	}
	for _, c := range cases {
		a := &Area{ID: 1, Tau: c.tau}
		for i := 0; i < c.devices; i++ {
			a.Devices = append(a.Devices, Device{ID: i, EndOfProg: 100})
		}
		if got := a.TauTooHigh(); got != c.want {
			t.Errorf("devices=%d tau=%d: got %v, want %v", c.devices, c.tau, got, c.want)
		}
	}
}

func TestMinEndOfProg(t *testing.T) {
	a := &Area{ID: 1}
	if got := a.MinEndOfProg(); got != Infinity {
		t.Errorf("no devices: got %d, want %d", got, Infinity)
	}
	a.Devices = []Device{{ID: 1, EndOfProg: 60}, {ID: 2, EndOfProg: 15}}
	if got := a.MinEndOfProg(); got != 15 {
		t.Errorf("got %d, want 15", got)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	live := quietRoom(1)
	snap := live.Snapshot()

	live.UpsertDevice(Device{ID: 999, EndOfProg: 10, InCritic: true})
	if snap.InCriticalState() {
		t.Error("mutation of the live area leaked into the snapshot")
	}

	snap.CurrentV = 0
	if live.Value() == 0 {
		t.Error("snapshot mutation leaked into the live area")
	}
}

func TestSnapshotDeepCopiesRooms(t *testing.T) {
	zone := &Area{ID: 1, Kind: Zone, Rooms: []*Area{quietRoom(2)}}
	snap := zone.Snapshot()

	zone.Rooms[0].UpsertDevice(Device{ID: 999, InCritic: true})
	if snap.Rooms[0].InCriticalState() {
		t.Error("room mutation leaked into the snapshot")
	}
}

func TestAdvanceTime(t *testing.T) {
	a := quietRoom(1)
	a.Tau = 50
	a.CurrentV = 60
	a.Devices = []Device{{ID: 1, EndOfProg: 30}}

	a.AdvanceTime(20)
	if a.Tau != 70 {
		t.Errorf("tau = %d, want 70", a.Tau)
	}
	if a.PreviousV != 40 {
		t.Errorf("previous_v = %d, want 40", a.PreviousV)
	}
	if a.Devices[0].EndOfProg != 10 {
		t.Errorf("end_of_prog = %d, want 10", a.Devices[0].EndOfProg)
	}

	// Programs never go negative.
	a.AdvanceTime(30)
	if a.Devices[0].EndOfProg != 0 {
		t.Errorf("end_of_prog = %d, want 0", a.Devices[0].EndOfProg)
	}
}

func TestUpsertDeviceReportsCriticalFlip(t *testing.T) {
	a := quietRoom(1)
	d := a.Devices[0]

	d.InCritic = true
	if !a.UpsertDevice(d) {
		t.Error("flip into critical not reported")
	}
	if a.UpsertDevice(d) {
		t.Error("already-critical update reported as a flip")
	}
}

func TestPopOrReprogramDevices(t *testing.T) {
	a := &Area{ID: 1, Devices: []Device{
		{ID: 1, InCritic: true},
		{ID: 2, InCritic: true},
		{ID: 3, EndOfProg: 12},
	}}
	a.PopOrReprogramDevices(func(d Device) bool { return d.ID != 1 })

	if len(a.Devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(a.Devices))
	}
	for _, d := range a.Devices {
		if d.InCritic || d.EndOfProg != Infinity {
			t.Errorf("device %d not reprogrammed: %+v", d.ID, d)
		}
	}
}

func TestRoomsNeedingIntervention(t *testing.T) {
	p := DefaultParams()
	critical := &Area{ID: 3, Kind: Room, Devices: []Device{{ID: 31, InCritic: true}}}
	zone := &Area{
		ID:       1,
		Kind:     Zone,
		CurrentV: 60,
		Rooms:    []*Area{quietRoom(2), critical},
	}
	ids := zone.RoomsNeedingIntervention(p)
	if len(ids) != 1 || ids[0] != 3 {
		t.Errorf("got %v, want [3]", ids)
	}
}
