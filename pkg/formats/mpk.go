// Package formats provides codecs for the renderer's on-disk asset formats.
package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// MPK format errors.
var (
	ErrInvalidMPKMagic       = errors.New("invalid MPK magic: expected 'MPAK'")
	ErrUnsupportedMPKVersion = errors.New("unsupported MPK version")
	ErrTruncatedMPKData      = errors.New("truncated MPK data")
	ErrCorruptMPKData        = errors.New("corrupt MPK data")
)

// MPKMagic identifies a meshlet pack file.
const MPKMagic = "MPAK"

// Current format version.
const (
	MPKVersionMajor = 1
	MPKVersionMinor = 0
)

// MPKVersion represents the MPK file version.
type MPKVersion struct {
	Major uint8
	Minor uint8
}

// String returns the version as "Major.Minor".
func (v MPKVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// MPKMeshlet is the fixed-size on-disk meshlet descriptor.
// Offsets address the pack's shared VertexRefs / TriangleVerts arrays.
type MPKMeshlet struct {
	VertexOffset   uint32
	VertexCount    uint32
	TriangleOffset uint32
	TriangleCount  uint32
	BoundsMin      [3]float32
	BoundsMax      [3]float32
	ConeApex       [3]float32
	ConeAxis       [3]float32
	ConeCutoff     float32
	Level          uint32
	Error          float32
	Parent         int32 // node index, -1 = none
}

// MPKNode is the fixed-size on-disk LOD hierarchy node.
// MeshletOffset/Count address NodeMeshlets; ChildOffset/Count address NodeChildren.
type MPKNode struct {
	Level         uint32
	Error         float32
	SphereCenter  [3]float32
	SphereRadius  float32
	MeshletOffset uint32
	MeshletCount  uint32
	ChildOffset   uint32
	ChildCount    uint32
}

// MPK represents a parsed meshlet pack.
// Vertex attributes are flat float32 arrays: 3 components per vertex for
// Positions/Normals/Tangents, 2 for UVs. TriangleVerts holds 3 meshlet-local
// vertex indices per triangle.
type MPK struct {
	Version MPKVersion

	Meshlets []MPKMeshlet
	Nodes    []MPKNode

	Positions []float32
	Normals   []float32
	Tangents  []float32
	UVs       []float32

	VertexRefs    []uint32 // meshlet-local -> global vertex index
	TriangleVerts []uint8
	NodeMeshlets  []uint32
	NodeChildren  []uint32
}

// VertexCount returns the number of vertices in the shared pool.
func (m *MPK) VertexCount() int {
	return len(m.Positions) / 3
}

// LevelCount returns the number of LOD levels (max node level + 1).
func (m *MPK) LevelCount() int {
	levels := 0
	for i := range m.Nodes {
		if int(m.Nodes[i].Level)+1 > levels {
			levels = int(m.Nodes[i].Level) + 1
		}
	}
	return levels
}

// Encode serializes the pack to the current format version.
func (m *MPK) Encode() ([]byte, error) {
	if len(m.Positions)%3 != 0 || len(m.TriangleVerts)%3 != 0 {
		return nil, ErrCorruptMPKData
	}

	buf := new(bytes.Buffer)
	buf.WriteString(MPKMagic)
	buf.WriteByte(MPKVersionMajor)
	buf.WriteByte(MPKVersionMinor)

	counts := []uint32{
		uint32(len(m.Meshlets)),
		uint32(len(m.Nodes)),
		uint32(len(m.Positions) / 3),
		uint32(len(m.VertexRefs)),
		uint32(len(m.TriangleVerts) / 3),
		uint32(len(m.NodeMeshlets)),
		uint32(len(m.NodeChildren)),
	}
	for _, c := range counts {
		if err := binary.Write(buf, binary.LittleEndian, c); err != nil {
			return nil, err
		}
	}

	sections := []any{
		m.Meshlets, m.Nodes,
		m.Positions, m.Normals, m.Tangents, m.UVs,
		m.VertexRefs, m.TriangleVerts, m.NodeMeshlets, m.NodeChildren,
	}
	for _, s := range sections {
		if err := binary.Write(buf, binary.LittleEndian, s); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// ParseMPK parses a meshlet pack from memory.
func ParseMPK(data []byte) (*MPK, error) {
	r := bytes.NewReader(data)

	magic := make([]byte, 4)
	if _, err := r.Read(magic); err != nil {
		return nil, ErrTruncatedMPKData
	}
	if string(magic) != MPKMagic {
		return nil, ErrInvalidMPKMagic
	}

	var version MPKVersion
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, ErrTruncatedMPKData
	}
	if version.Major != MPKVersionMajor {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMPKVersion, version)
	}

	var meshletCount, nodeCount, vertexCount uint32
	var vertexRefCount, triangleCount, nodeMeshletCount, nodeChildCount uint32
	for _, c := range []*uint32{
		&meshletCount, &nodeCount, &vertexCount,
		&vertexRefCount, &triangleCount, &nodeMeshletCount, &nodeChildCount,
	} {
		if err := binary.Read(r, binary.LittleEndian, c); err != nil {
			return nil, ErrTruncatedMPKData
		}
	}

	// Sanity bound: no section can have more elements than bytes remaining.
	if int64(meshletCount)+int64(nodeCount)+int64(vertexCount)+
		int64(vertexRefCount)+int64(triangleCount)+
		int64(nodeMeshletCount)+int64(nodeChildCount) > int64(r.Len()) {
		return nil, ErrCorruptMPKData
	}

	mpk := &MPK{
		Version:       version,
		Meshlets:      make([]MPKMeshlet, meshletCount),
		Nodes:         make([]MPKNode, nodeCount),
		Positions:     make([]float32, vertexCount*3),
		Normals:       make([]float32, vertexCount*3),
		Tangents:      make([]float32, vertexCount*3),
		UVs:           make([]float32, vertexCount*2),
		VertexRefs:    make([]uint32, vertexRefCount),
		TriangleVerts: make([]uint8, triangleCount*3),
		NodeMeshlets:  make([]uint32, nodeMeshletCount),
		NodeChildren:  make([]uint32, nodeChildCount),
	}

	sections := []any{
		mpk.Meshlets, mpk.Nodes,
		mpk.Positions, mpk.Normals, mpk.Tangents, mpk.UVs,
		mpk.VertexRefs, mpk.TriangleVerts, mpk.NodeMeshlets, mpk.NodeChildren,
	}
	for _, s := range sections {
		if err := binary.Read(r, binary.LittleEndian, s); err != nil {
			return nil, ErrTruncatedMPKData
		}
	}

	if err := validateMPK(mpk); err != nil {
		return nil, err
	}
	return mpk, nil
}

// validateMPK checks internal offsets so later consumers can index without
// bounds panics.
func validateMPK(m *MPK) error {
	vertexCount := uint32(len(m.Positions) / 3)
	for i := range m.Meshlets {
		d := &m.Meshlets[i]
		if uint64(d.VertexOffset)+uint64(d.VertexCount) > uint64(len(m.VertexRefs)) {
			return fmt.Errorf("%w: meshlet %d vertex range", ErrCorruptMPKData, i)
		}
		if (uint64(d.TriangleOffset)+uint64(d.TriangleCount))*3 > uint64(len(m.TriangleVerts)) {
			return fmt.Errorf("%w: meshlet %d triangle range", ErrCorruptMPKData, i)
		}
		if d.Parent >= 0 && int(d.Parent) >= len(m.Nodes) {
			return fmt.Errorf("%w: meshlet %d parent node", ErrCorruptMPKData, i)
		}
	}
	for _, ref := range m.VertexRefs {
		if ref >= vertexCount {
			return fmt.Errorf("%w: vertex ref out of range", ErrCorruptMPKData)
		}
	}
	for i, mi := range m.NodeMeshlets {
		if mi >= uint32(len(m.Meshlets)) {
			return fmt.Errorf("%w: node meshlet ref %d out of range", ErrCorruptMPKData, i)
		}
	}
	for i := range m.Nodes {
		n := &m.Nodes[i]
		if uint64(n.MeshletOffset)+uint64(n.MeshletCount) > uint64(len(m.NodeMeshlets)) {
			return fmt.Errorf("%w: node %d meshlet range", ErrCorruptMPKData, i)
		}
		if uint64(n.ChildOffset)+uint64(n.ChildCount) > uint64(len(m.NodeChildren)) {
			return fmt.Errorf("%w: node %d child range", ErrCorruptMPKData, i)
		}
		for _, c := range m.NodeChildren[n.ChildOffset : n.ChildOffset+n.ChildCount] {
			// Children must be strictly lower-numbered: the arena is a DAG.
			if int(c) >= i {
				return fmt.Errorf("%w: node %d child %d not lower-numbered", ErrCorruptMPKData, i, c)
			}
		}
	}
	return nil
}

// LoadMPK reads and parses a meshlet pack file.
func LoadMPK(path string) (*MPK, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading MPK file: %w", err)
	}
	return ParseMPK(data)
}

// SaveMPK encodes and writes a meshlet pack file.
func SaveMPK(path string, m *MPK) error {
	data, err := m.Encode()
	if err != nil {
		return fmt.Errorf("encoding MPK: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing MPK file: %w", err)
	}
	return nil
}
