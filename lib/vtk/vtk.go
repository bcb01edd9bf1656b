/*package vtk writes point data in the legacy VTK format, so that synchronized
fields can be inspected in ParaView or VisIt. Each rank writes its own piece,
and a multiblock index groups the pieces.
*/
package vtk

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/phil-mansfield/meshsync/lib/codec"
)

// Tag is a named scalar array with one value per point.
type Tag struct {
	Name   string
	Values []float64
}

// FromScalars converts a per-entity array into a Tag.
func FromScalars[T codec.Scalar](name string, x []T) Tag {
	vals := make([]float64, len(x))
	for i := range x {
		vals[i] = float64(x[i])
	}
	return Tag{Name: name, Values: vals}
}

// PiecePath returns the name of the file a given rank writes to within dir.
func PiecePath(dir string, rank int) string {
	return filepath.Join(dir, fmt.Sprintf("piece_%04d.vtk", rank))
}

// Write writes a set of points and their tags to path as ASCII POLYDATA with
// one vertex cell per point. Points may have one to three coordinates.
func Write(path string, coords [][]float64, tags ...Tag) error {
	for _, tag := range tags {
		if len(tag.Values) != len(coords) {
			return fmt.Errorf("tag '%s' has %d values, but there are %d points", tag.Name, len(tag.Values), len(coords))
		}
		if tag.Name == "" || strings.ContainsAny(tag.Name, " \t\n") {
			return fmt.Errorf("'%s' is not a valid VTK array name", tag.Name)
		}
	}
	for i, c := range coords {
		if len(c) < 1 || len(c) > 3 {
			return fmt.Errorf("point %d has %d coordinates", i, len(c))
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	writeData(w, coords, tags)

	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func writeData(w *bufio.Writer, coords [][]float64, tags []Tag) {
	n := len(coords)
	fmt.Fprintln(w, "# vtk DataFile Version 3.0")
	fmt.Fprintln(w, "meshsync")
	fmt.Fprintln(w, "ASCII")
	fmt.Fprintln(w, "DATASET POLYDATA")

	fmt.Fprintf(w, "POINTS %d double\n", n)
	for _, c := range coords {
		var p [3]float64
		copy(p[:], c)
		fmt.Fprintf(w, "%g %g %g\n", p[0], p[1], p[2])
	}

	fmt.Fprintf(w, "VERTICES %d %d\n", n, 2*n)
	for i := 0; i < n; i++ {
		fmt.Fprintf(w, "1 %d\n", i)
	}

	if len(tags) == 0 {
		return
	}
	fmt.Fprintf(w, "POINT_DATA %d\n", n)
	for _, tag := range tags {
		fmt.Fprintf(w, "SCALARS %s double 1\n", tag.Name)
		fmt.Fprintln(w, "LOOKUP_TABLE default")
		for _, v := range tag.Values {
			fmt.Fprintf(w, "%g\n", v)
		}
	}
}

type multiBlock struct {
	XMLName xml.Name     `xml:"VTKFile"`
	Type    string       `xml:"type,attr"`
	Version string       `xml:"version,attr"`
	Blocks  []blockEntry `xml:"vtkMultiBlockDataSet>DataSet"`
}

type blockEntry struct {
	Index int    `xml:"index,attr"`
	File  string `xml:"file,attr"`
}

// IndexPath returns the name of the file which groups the pieces in dir.
func IndexPath(dir string) string {
	return filepath.Join(dir, "pieces.vtm")
}

// WriteIndex writes a multiblock file which opens every piece at once.
// pieces maps ranks to file names relative to the index's directory.
func WriteIndex(path string, pieces map[int]string) error {
	ranks := make([]int, 0, len(pieces))
	for r := range pieces {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)

	mb := multiBlock{Type: "vtkMultiBlockDataSet", Version: "1.0"}
	for _, r := range ranks {
		mb.Blocks = append(mb.Blocks, blockEntry{Index: r, File: pieces[r]})
	}

	b, err := xml.MarshalIndent(mb, "", "  ")
	if err != nil {
		return err
	}
	b = append([]byte(xml.Header), b...)
	return os.WriteFile(path, append(b, '\n'), 0644)
}
