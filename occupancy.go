package main

// Occupancy lists the unit ids standing on each tile. It is only touched
// with the world lock held.
type Occupancy struct {
	width int
	tiles [][]int
}

// NewOccupancy creates an empty index sized for the map
func NewOccupancy(m *WorldMap) *Occupancy {
	return &Occupancy{
		width: m.Width,
		tiles: make([][]int, m.Width*m.Height),
	}
}

// Add appends id to the list of (x,y)
func (o *Occupancy) Add(x, y, id int) {
	idx := x + y*o.width
	o.tiles[idx] = append(o.tiles[idx], id)
}

// Remove drops id from the list of (x,y), keeping the order of the others
func (o *Occupancy) Remove(x, y, id int) bool {
	idx := x + y*o.width
	list := o.tiles[idx]
	for i, v := range list {
		if v == id {
			o.tiles[idx] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Move relocates id from one tile to another
func (o *Occupancy) Move(fromX, fromY, toX, toY, id int) {
	o.Remove(fromX, fromY, id)
	o.Add(toX, toY, id)
}

// At returns the ids on (x,y). The slice is owned by the index.
func (o *Occupancy) At(x, y int) []int {
	return o.tiles[x+y*o.width]
}

// Count returns the total number of entries across all tiles
func (o *Occupancy) Count() int {
	n := 0
	for _, list := range o.tiles {
		n += len(list)
	}
	return n
}
