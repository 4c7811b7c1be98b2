// Package route holds the precomputed waypoint graph used for localization
// and path lookahead. The graph is built once from the simulator's road
// topology at pipeline startup and is immutable afterwards, so it is shared
// across stages without locking.
package route

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/trafficmgr/internal/sim"
)

// Waypoint is one node of the routable graph: a point on a lane centerline
// with links to its successors along the lane and to the adjacent lanes.
type Waypoint struct {
	ID         uint64
	Position   r3.Vec
	RoadID     int
	LaneID     int
	SpeedLimit float64 // m/s

	next  []*Waypoint
	left  *Waypoint
	right *Waypoint
}

// Successors returns the waypoints reachable from this one. Interior lane
// points have one successor; the last point of a segment links to the first
// point of each connected segment.
func (w *Waypoint) Successors() []*Waypoint { return w.next }

// Left returns the neighboring waypoint on the adjacent left lane, or nil.
func (w *Waypoint) Left() *Waypoint { return w.left }

// Right returns the neighboring waypoint on the adjacent right lane, or nil.
func (w *Waypoint) Right() *Waypoint { return w.right }

type gridKey struct{ x, y int }

// Cache is the immutable waypoint graph with a coarse spatial index for
// nearest-waypoint lookups.
type Cache struct {
	waypoints []*Waypoint
	grid      map[gridKey][]*Waypoint
	cellSize  float64
}

// DefaultCellSize is the spatial index cell edge in meters. Waypoints are a
// few meters apart, so a handful of cells covers any realistic query radius.
const DefaultCellSize = 16.0

// BuildCache constructs the waypoint graph from road topology. Segment
// centerlines become waypoint chains; NextIDs stitch segment ends together
// and LeftID/RightID produce per-waypoint lane-change links (matched by
// index along the lane, clamped to the shorter lane).
func BuildCache(segments []sim.RoadSegment) (*Cache, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("build route cache: no road segments")
	}

	c := &Cache{
		grid:     make(map[gridKey][]*Waypoint),
		cellSize: DefaultCellSize,
	}

	chains := make(map[int][]*Waypoint, len(segments))
	var nextID uint64
	for _, seg := range segments {
		if len(seg.Centerline) == 0 {
			return nil, fmt.Errorf("build route cache: segment %d has empty centerline", seg.ID)
		}
		if seg.LeftID == seg.ID || seg.RightID == seg.ID {
			// The usual cause is a zero-valued link on segment 0; unused
			// links must be -1.
			return nil, fmt.Errorf("build route cache: segment %d lane-links to itself", seg.ID)
		}
		chain := make([]*Waypoint, 0, len(seg.Centerline))
		for _, p := range seg.Centerline {
			wp := &Waypoint{
				ID:         nextID,
				Position:   p,
				RoadID:     seg.RoadID,
				LaneID:     seg.LaneID,
				SpeedLimit: seg.SpeedLimit,
			}
			nextID++
			chain = append(chain, wp)
			c.waypoints = append(c.waypoints, wp)
			k := c.keyFor(p)
			c.grid[k] = append(c.grid[k], wp)
		}
		for i := 0; i+1 < len(chain); i++ {
			chain[i].next = append(chain[i].next, chain[i+1])
		}
		chains[seg.ID] = chain
	}

	for _, seg := range segments {
		chain := chains[seg.ID]
		last := chain[len(chain)-1]
		for _, nid := range seg.NextIDs {
			next, ok := chains[nid]
			if !ok {
				return nil, fmt.Errorf("build route cache: segment %d links to unknown segment %d", seg.ID, nid)
			}
			last.next = append(last.next, next[0])
		}
		if other, ok := chains[seg.LeftID]; ok {
			linkAdjacent(chain, other, true)
		}
		if other, ok := chains[seg.RightID]; ok {
			linkAdjacent(chain, other, false)
		}
	}

	return c, nil
}

func linkAdjacent(chain, other []*Waypoint, left bool) {
	n := len(chain)
	if len(other) < n {
		n = len(other)
	}
	for i := 0; i < n; i++ {
		if left {
			chain[i].left = other[i]
		} else {
			chain[i].right = other[i]
		}
	}
}

func (c *Cache) keyFor(p r3.Vec) gridKey {
	return gridKey{
		x: int(math.Floor(p.X / c.cellSize)),
		y: int(math.Floor(p.Y / c.cellSize)),
	}
}

// Len returns the number of waypoints in the graph.
func (c *Cache) Len() int { return len(c.waypoints) }

// NearestWaypoint returns the waypoint closest to p. Positions off the
// indexed area fall back to a full scan, so a vehicle that has left the
// cached graph still localizes to the nearest known node.
func (c *Cache) NearestWaypoint(p r3.Vec) *Waypoint {
	center := c.keyFor(p)
	var best *Waypoint
	bestDist := math.Inf(1)

	// Search the 3x3 cell neighborhood first; it covers any point within
	// one cell size of the query.
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			k := gridKey{x: center.x + dx, y: center.y + dy}
			for _, wp := range c.grid[k] {
				if d := distSq(wp.Position, p); d < bestDist {
					bestDist = d
					best = wp
				}
			}
		}
	}
	if best != nil {
		return best
	}

	for _, wp := range c.waypoints {
		if d := distSq(wp.Position, p); d < bestDist {
			bestDist = d
			best = wp
		}
	}
	return best
}

func distSq(a, b r3.Vec) float64 {
	d := r3.Sub(a, b)
	return d.X*d.X + d.Y*d.Y + d.Z*d.Z
}
