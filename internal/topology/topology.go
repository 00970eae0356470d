// Package topology builds the hospital environment: areas laid out on
// two facing corridors, each area with up to three neighbors (left,
// right, front). When zones are requested, rooms are dealt round-robin
// into them and the corridor layout applies to the zones.
package topology

import (
	"math/rand"

	"github.com/muglyon/dcop"
)

// Options controls the generated environment.
type Options struct {
	NbRooms       int
	NbZones       int  // 0 means room-only
	Multivariable bool // zones keep one variable per room
	Seed          int64
}

const (
	minTau       = 5
	maxDevices   = 6
	criticalProb = 0.05
)

// Build generates the list of top-level areas with symmetric neighbor
// relations and randomized initial device state.
func Build(opts Options) []*dcop.Area {
	rng := rand.New(rand.NewSource(opts.Seed))

	if opts.NbZones > 0 {
		return buildZones(opts, rng)
	}

	areas := make([]*dcop.Area, 0, opts.NbRooms)
	for i := 1; i <= opts.NbRooms; i++ {
		areas = append(areas, newRoom(dcop.AgentID(i), rng))
	}
	wireCorridors(areas)
	return areas
}

func buildZones(opts Options, rng *rand.Rand) []*dcop.Area {
	kind := dcop.Zone
	if opts.Multivariable {
		kind = dcop.ZoneMulti
	}

	zones := make([]*dcop.Area, 0, opts.NbZones)
	for i := 1; i <= opts.NbZones; i++ {
		zones = append(zones, &dcop.Area{
			ID:   dcop.AgentID(i),
			Kind: kind,
			Tau:  minTau + rng.Intn(dcop.Infinity-minTau),
		})
	}

	// Rooms get ids after the zone id space so an assignment can bind
	// both without collision.
	for j := 0; j < opts.NbRooms; j++ {
		zone := zones[j%len(zones)]
		room := newRoom(dcop.AgentID(opts.NbZones+1+j), rng)
		zone.Rooms = append(zone.Rooms, room)
	}

	wireCorridors(zones)
	return zones
}

func newRoom(id dcop.AgentID, rng *rand.Rand) *dcop.Area {
	room := &dcop.Area{
		ID:   id,
		Kind: dcop.Room,
		Tau:  minTau + rng.Intn(dcop.Infinity-minTau),
	}
	for d := 0; d < rng.Intn(maxDevices+1); d++ {
		room.Devices = append(room.Devices, dcop.Device{
			ID:        int(id)*100 + d + 1,
			EndOfProg: minTau + rng.Intn(dcop.Infinity-minTau),
			InCritic:  rng.Float64() < criticalProb,
		})
	}
	return room
}

// wireCorridors arranges the areas on two facing rows: each area gets
// its row predecessor and successor as left/right neighbors, the two
// rows are joined at both ends, and interior areas face each other
// across the corridor.
func wireCorridors(areas []*dcop.Area) {
	half := len(areas) / 2
	if half == 0 {
		return
	}
	left := areas[:half]
	right := areas[half : 2*half]

	link := func(a, b *dcop.Area) {
		if a == nil || b == nil || a == b {
			return
		}
		addNeighbor(a, b)
		addNeighbor(b, a)
	}

	for k := 0; k < half; k++ {
		if k == 0 {
			link(left[k], right[k])
		}
		if k > 0 {
			link(left[k], left[k-1])
			link(right[k], right[k-1])
		}
		if k == half-1 {
			link(left[k], right[k])
		}
		if 0 < k && k < half-1 {
			link(left[k], right[k])
		}
	}

	// Degrees are known only once all edges exist.
	for _, a := range areas {
		for i := range a.Neighbors {
			a.Neighbors[i].Degree = degreeOf(areas, a.Neighbors[i].ID)
		}
	}
}

func addNeighbor(a, b *dcop.Area) {
	for _, n := range a.Neighbors {
		if n.ID == b.ID {
			return
		}
	}
	if len(a.Neighbors) >= 3 {
		return
	}
	a.Neighbors = append(a.Neighbors, dcop.Neighbor{ID: b.ID})
}

func degreeOf(areas []*dcop.Area, id dcop.AgentID) int {
	for _, a := range areas {
		if a.ID == id {
			return a.Degree()
		}
	}
	return 0
}
