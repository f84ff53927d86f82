package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Point is a pixel coordinate on the frame the server streamed for annotation.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Vector is a water-jet direction drawn from (StartX,StartY) to (EndX,EndY).
type Vector struct {
	StartX int `json:"start_x"`
	StartY int `json:"start_y"`
	EndX   int `json:"end_x"`
	EndY   int `json:"end_y"`
}

// FormatPoints serializes points as "x1,y1;x2,y2;...".
func FormatPoints(points []Point) []byte {
	var b strings.Builder
	for i, p := range points {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(strconv.Itoa(p.X))
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(p.Y))
	}
	return []byte(b.String())
}

// ParsePoints is the inverse of FormatPoints. Empty segments are skipped.
func ParsePoints(payload []byte) ([]Point, error) {
	var points []Point
	for _, segment := range strings.Split(string(payload), ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		values, err := parseInts(segment, 2)
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", segment, err)
		}
		points = append(points, Point{X: values[0], Y: values[1]})
	}
	return points, nil
}

// FormatVectors serializes vectors as "sx,sy,ex,ey;...".
func FormatVectors(vectors []Vector) []byte {
	var b strings.Builder
	for i, v := range vectors {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%d,%d,%d,%d", v.StartX, v.StartY, v.EndX, v.EndY)
	}
	return []byte(b.String())
}

func ParseVectors(payload []byte) ([]Vector, error) {
	var vectors []Vector
	for _, segment := range strings.Split(string(payload), ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		values, err := parseInts(segment, 4)
		if err != nil {
			return nil, fmt.Errorf("vector %q: %w", segment, err)
		}
		vectors = append(vectors, Vector{StartX: values[0], StartY: values[1], EndX: values[2], EndY: values[3]})
	}
	return vectors, nil
}

func parseInts(segment string, want int) ([]int, error) {
	fields := strings.Split(segment, ",")
	if len(fields) != want {
		return nil, fmt.Errorf("expected %d values, got %d", want, len(fields))
	}
	out := make([]int, want)
	for i, field := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
