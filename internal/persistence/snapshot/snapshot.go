package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"voxelpilot.ai/internal/world"
)

const Version = 1

// Header is written as a JSON line ahead of the gob body so tools can inspect a file
// without decoding it.
type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
	Cells   int    `json:"cells"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	// Min and Max are the capture box when Bounded, else the extent of the cells.
	Min     [3]int `json:"min"`
	Max     [3]int `json:"max"`
	Bounded bool   `json:"bounded,omitempty"`

	// Palette maps block indices to ids; index 0 is always air.
	Palette []string `json:"palette"`
	Cells   []CellV1 `json:"cells"`

	Agent *AgentV1 `json:"agent,omitempty"`
}

type CellV1 struct {
	Pos   [3]int `json:"pos"`
	Block uint16 `json:"block"`
}

type AgentV1 struct {
	Pos   [3]float64 `json:"pos"`
	Yaw   float64    `json:"yaw"`
	Pitch float64    `json:"pitch"`
}

// FromWorld encodes s. Air cells are kept so the bounds survive.
func FromWorld(worldID string, tick uint64, s *world.Snapshot) (SnapshotV1, error) {
	b := s.Bounds()
	out := SnapshotV1{
		Header:  Header{Version: Version, WorldID: worldID, Tick: tick},
		Min:     b.Min.Array(),
		Max:     b.Max.Array(),
		Bounded: s.Bounded(),
		Palette: []string{string(world.Air)},
	}
	index := map[world.BlockID]uint16{world.Air: 0}
	var err error
	s.Each(func(p world.Position, id world.BlockID) {
		if err != nil {
			return
		}
		if id.IsAir() {
			id = world.Air
		}
		i, ok := index[id]
		if !ok {
			if len(out.Palette) > 0xFFFF {
				err = fmt.Errorf("palette overflow at %s", p)
				return
			}
			i = uint16(len(out.Palette))
			index[id] = i
			out.Palette = append(out.Palette, string(id))
		}
		out.Cells = append(out.Cells, CellV1{Pos: p.Array(), Block: i})
	})
	out.Header.Cells = len(out.Cells)
	return out, err
}

// World decodes the block view.
func (s SnapshotV1) World() (*world.Snapshot, error) {
	if s.Header.Version != Version {
		return nil, fmt.Errorf("unsupported snapshot version %d", s.Header.Version)
	}
	blocks := make(map[world.Position]world.BlockID, len(s.Cells))
	for _, c := range s.Cells {
		if int(c.Block) >= len(s.Palette) {
			return nil, fmt.Errorf("cell %v: block index %d outside palette of %d", c.Pos, c.Block, len(s.Palette))
		}
		blocks[world.FromArray(c.Pos)] = world.BlockID(s.Palette[c.Block])
	}
	if !s.Bounded {
		return world.NewSnapshot(blocks), nil
	}
	bounds := world.Bounds{Min: world.FromArray(s.Min), Max: world.FromArray(s.Max)}
	return world.NewSnapshotWithBounds(blocks, bounds), nil
}

// Counts tallies cells per block id.
func (s SnapshotV1) Counts() map[string]int {
	out := map[string]int{}
	for _, c := range s.Cells {
		if int(c.Block) < len(s.Palette) {
			out[s.Palette[c.Block]]++
		}
	}
	return out
}

// FileName is the canonical snapshot name for a tick.
func FileName(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%012d.snap.zst", tick))
}

// List returns the snapshot files in dir, oldest tick first.
func List(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.snap.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	br, closeFn, err := open(path)
	if err != nil {
		return snap, err
	}
	defer closeFn()

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON line.
func ReadHeader(path string) (Header, error) {
	var h Header
	br, closeFn, err := open(path)
	if err != nil {
		return h, err
	}
	defer closeFn()
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func open(path string) (*bufio.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return bufio.NewReaderSize(dec, 256*1024), func() { dec.Close(); _ = f.Close() }, nil
}
