package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/neuralfs/neuralfs/internal/faults"
)

// Snapshot format: magic (4), version (4), dims (4), count (4), then per
// point: id (8), modified_at (8), five length-prefixed payload strings,
// vector (dims*4). Little endian throughout. The graph itself is not
// persisted; Load rebuilds it by re-inserting the points.
const (
	snapshotMagic   = 0x4e465356 // "NFSV"
	snapshotVersion = 1
)

// Save writes all live points to path via a temp file and rename.
func (h *HNSW) Save(path string) error {
	if path == "" {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	w := bufio.NewWriter(f)

	writeErr := func() error {
		for _, v := range []uint32{snapshotMagic, snapshotVersion, uint32(h.dims), uint32(len(h.nodes) - h.deleted)} {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return err
			}
		}
		for _, n := range h.nodes {
			if n.deleted {
				continue
			}
			p := &n.point
			if err := binary.Write(w, binary.LittleEndian, p.ID); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, p.Payload.ModifiedAt); err != nil {
				return err
			}
			for _, s := range []string{p.Payload.FileID, p.Payload.ChunkID, p.Payload.FileType, p.Payload.Privacy, p.Payload.Path} {
				if err := writeString(w, s); err != nil {
					return err
				}
			}
			if _, err := w.Write(float32sToBytes(p.Vector)); err != nil {
				return err
			}
		}
		return w.Flush()
	}()
	if writeErr != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", writeErr)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load replaces the graph contents with the snapshot at path. A missing
// file leaves the graph unchanged; a malformed file is a Corrupt error,
// after which the caller should rebuild from the metadata store.
func (h *HNSW) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var magic, version, dims, count uint32
	for _, dst := range []*uint32{&magic, &version, &dims, &count} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return faults.Wrap(faults.Corrupt, "snapshot header", err)
		}
	}
	if magic != snapshotMagic {
		return faults.New(faults.Corrupt, "snapshot magic mismatch")
	}
	if version != snapshotVersion {
		return faults.Newf(faults.Corrupt, "unsupported snapshot version %d", version)
	}
	if int(dims) != h.dims {
		return faults.Newf(faults.Corrupt,
			"snapshot dimension mismatch: file has %d, store expects %d", dims, h.dims)
	}

	points := make([]Point, 0, count)
	vecBuf := make([]byte, h.dims*4)
	for i := uint32(0); i < count; i++ {
		var p Point
		if err := binary.Read(r, binary.LittleEndian, &p.ID); err != nil {
			return faults.Wrap(faults.Corrupt, "snapshot point id", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &p.Payload.ModifiedAt); err != nil {
			return faults.Wrap(faults.Corrupt, "snapshot point time", err)
		}
		for _, dst := range []*string{&p.Payload.FileID, &p.Payload.ChunkID, &p.Payload.FileType, &p.Payload.Privacy, &p.Payload.Path} {
			s, err := readString(r)
			if err != nil {
				return faults.Wrap(faults.Corrupt, "snapshot payload", err)
			}
			*dst = s
		}
		if _, err := io.ReadFull(r, vecBuf); err != nil {
			return faults.Wrap(faults.Corrupt, "snapshot vector", err)
		}
		p.Vector = bytesToFloat32s(vecBuf)
		points = append(points, p)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes = h.nodes[:0]
	h.byID = make(map[uint64]uint32, len(points))
	h.entry = -1
	h.maxLevel = 0
	h.deleted = 0
	for _, p := range points {
		h.insert(p)
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > 1<<20 {
		return "", fmt.Errorf("string length %d out of range", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func float32sToBytes(s []float32) []byte {
	out := make([]byte, len(s)*4)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*4:(i+1)*4], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32s(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : (i+1)*4]))
	}
	return out
}
