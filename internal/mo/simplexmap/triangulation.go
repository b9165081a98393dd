package simplexmap

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/trialsearch/go-thts/internal/thts"
)

// EdgePoint specifies one precomputed vertex on the edge between two simplex
// vertices (by index), at the given ratio.
type EdgePoint struct {
	Index0, Index1 int
	Ratio          float64
}

// Triangulation is a precomputed refinement of the (dim-1)-simplex: dim
// identity vertices, e = dim*(dim-1)/2 edge points, and the index lists of
// the sub-simplices over them.
type Triangulation struct {
	Dim        int
	EdgePoints []EdgePoint
	Simplices  [][]int
}

// LoadTriangulation reads the triangulation file for the given dimension
// from dir. The file layout is: line 1 the vertex count, line 2 the simplex
// count, then dim identity-vertex lines, then e edge-point lines of
// "tag index0 index1 ratio", then one space-separated index list per
// simplex. Parsing is case-sensitive and whitespace-separated.
func LoadTriangulation(dir string, dim int) (*Triangulation, error) {
	path := filepath.Join(dir, fmt.Sprintf("%d_triangulation.txt", dim))
	f, err := os.Open(path)
	if err != nil {
		return nil, thts.Configf("triangulation file missing for dimension %d: %v", dim, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	nextLine := func() (string, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", errors.Errorf("unexpected end of triangulation file %s", path)
		}
		return scanner.Text(), nil
	}

	line, err := nextLine()
	if err != nil {
		return nil, err
	}
	numVertices, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing vertex count in %s", path)
	}
	numEdgePoints := dim * (dim - 1) / 2
	if numVertices != dim+numEdgePoints {
		return nil, thts.Configf("triangulation for dimension %d has %d vertices, want %d",
			dim, numVertices, dim+numEdgePoints)
	}

	line, err = nextLine()
	if err != nil {
		return nil, err
	}
	numSimplices, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing simplex count in %s", path)
	}

	// Skip the dim identity-vertex lines.
	for i := 0; i < dim; i++ {
		if _, err := nextLine(); err != nil {
			return nil, err
		}
	}

	tri := &Triangulation{Dim: dim}
	for i := 0; i < numEdgePoints; i++ {
		line, err := nextLine()
		if err != nil {
			return nil, err
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, errors.Errorf("edge-point line %q in %s: want 4 fields", line, path)
		}
		index0, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errors.Wrapf(err, "edge-point line %q in %s", line, path)
		}
		index1, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, errors.Wrapf(err, "edge-point line %q in %s", line, path)
		}
		ratio, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "edge-point line %q in %s", line, path)
		}
		tri.EdgePoints = append(tri.EdgePoints, EdgePoint{Index0: index0, Index1: index1, Ratio: ratio})
	}

	for i := 0; i < numSimplices; i++ {
		line, err := nextLine()
		if err != nil {
			return nil, err
		}
		var indices []int
		for _, field := range strings.Fields(line) {
			index, err := strconv.Atoi(field)
			if err != nil {
				return nil, errors.Wrapf(err, "simplex line %q in %s", line, path)
			}
			indices = append(indices, index)
		}
		tri.Simplices = append(tri.Simplices, indices)
	}
	return tri, nil
}
