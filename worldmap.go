package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const TriggerMove = "move"

// WarpTrigger relocates a unit entering its tile to a fixed target tile
type WarpTrigger struct {
	TargetX, TargetY int
}

// WorldMap is the static tile grid. It is never mutated after load, so its
// accessors are safe to call while the world lock is held for unit mutation.
type WorldMap struct {
	Width, Height int
	Vacant        []bool
	Triggers      [][]WarpTrigger
	SpawnPoints   []Vec
}

// NewWorldMap creates a fully vacant map with no triggers or spawn points
func NewWorldMap(width, height int) *WorldMap {
	n := width * height
	vacant := make([]bool, n)
	for i := range vacant {
		vacant[i] = true
	}
	return &WorldMap{
		Width:    width,
		Height:   height,
		Vacant:   vacant,
		Triggers: make([][]WarpTrigger, n),
	}
}

// InBounds reports whether (x,y) lies on the grid
func (m *WorldMap) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.Width && y < m.Height
}

// TileIndex addresses a tile as x + y*width. Callers check InBounds first.
func (m *WorldMap) TileIndex(x, y int) int {
	return x + y*m.Width
}

// IsVacant reports whether units may step onto (x,y)
func (m *WorldMap) IsVacant(x, y int) bool {
	return m.InBounds(x, y) && m.Vacant[m.TileIndex(x, y)]
}

// TriggersAt returns the warp triggers registered on (x,y) in registration order
func (m *WorldMap) TriggersAt(x, y int) []WarpTrigger {
	if !m.InBounds(x, y) {
		return nil
	}
	return m.Triggers[m.TileIndex(x, y)]
}

// AddTrigger registers a warp on (fromX,fromY)
func (m *WorldMap) AddTrigger(fromX, fromY, toX, toY int) error {
	if !m.InBounds(fromX, fromY) {
		return fmt.Errorf("trigger source (%d,%d) outside map", fromX, fromY)
	}
	if !m.InBounds(toX, toY) {
		return fmt.Errorf("trigger target (%d,%d) outside map", toX, toY)
	}
	idx := m.TileIndex(fromX, fromY)
	m.Triggers[idx] = append(m.Triggers[idx], WarpTrigger{TargetX: toX, TargetY: toY})
	return nil
}

// mapFile mirrors map.toml
type mapFile struct {
	Map struct {
		File        string  `toml:"file"`
		VacantTiles []int   `toml:"vacant_tiles"`
		InitPlaces  [][]int `toml:"init_places"`
	} `toml:"map"`
	Trigger []struct {
		Type string `toml:"type"`
		From []int  `toml:"from"`
		To   []int  `toml:"to"`
	} `toml:"trigger"`
}

// tiledMap is the subset of a Tiled JSON export the server needs
type tiledMap struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Layers []struct {
		Data []int `json:"data"`
	} `json:"layers"`
}

// LoadMap reads map.toml and the Tiled JSON file it points at. A relative
// tile file path is resolved against the directory of map.toml.
func LoadMap(path string) (*WorldMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map config: %w", err)
	}
	var mf mapFile
	if err := toml.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("parsing map config: %w", err)
	}
	if mf.Map.File == "" {
		return nil, fmt.Errorf("map.file is required")
	}

	tilePath := mf.Map.File
	if !filepath.IsAbs(tilePath) {
		tilePath = filepath.Join(filepath.Dir(path), tilePath)
	}
	raw, err = os.ReadFile(tilePath)
	if err != nil {
		return nil, fmt.Errorf("reading tile map: %w", err)
	}
	var tm tiledMap
	if err := json.Unmarshal(raw, &tm); err != nil {
		return nil, fmt.Errorf("parsing tile map: %w", err)
	}

	return buildMap(&mf, &tm)
}

func buildMap(mf *mapFile, tm *tiledMap) (*WorldMap, error) {
	if tm.Width <= 0 || tm.Height <= 0 {
		return nil, fmt.Errorf("invalid map size %dx%d", tm.Width, tm.Height)
	}
	m := NewWorldMap(tm.Width, tm.Height)

	vacantIDs := make(map[int]bool, len(mf.Map.VacantTiles))
	for _, id := range mf.Map.VacantTiles {
		vacantIDs[id] = true
	}
	for li, layer := range tm.Layers {
		if len(layer.Data) > len(m.Vacant) {
			return nil, fmt.Errorf("layer %d has %d tiles, map has %d", li, len(layer.Data), len(m.Vacant))
		}
		for i, tile := range layer.Data {
			if tile != 0 && !vacantIDs[tile] {
				m.Vacant[i] = false
			}
		}
	}

	for i, p := range mf.Map.InitPlaces {
		if len(p) != 2 {
			return nil, fmt.Errorf("init_places[%d]: want [x, y]", i)
		}
		if !m.InBounds(p[0], p[1]) {
			return nil, fmt.Errorf("init_places[%d]: (%d,%d) outside map", i, p[0], p[1])
		}
		m.SpawnPoints = append(m.SpawnPoints, Vec{X: p[0], Y: p[1]})
	}
	if len(m.SpawnPoints) == 0 {
		return nil, fmt.Errorf("map.init_places must not be empty")
	}

	for i, t := range mf.Trigger {
		if t.Type != TriggerMove {
			return nil, fmt.Errorf("trigger %d: unknown type %q", i, t.Type)
		}
		if len(t.From) != 2 || len(t.To) != 2 {
			return nil, fmt.Errorf("trigger %d: from and to must be [x, y]", i)
		}
		if err := m.AddTrigger(t.From[0], t.From[1], t.To[0], t.To[1]); err != nil {
			return nil, fmt.Errorf("trigger %d: %w", i, err)
		}
	}
	return m, nil
}
