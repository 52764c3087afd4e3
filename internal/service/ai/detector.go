package ai

import (
	"context"
	"image"
	"sort"

	"diginetra/internal/framebus"
)

// Request is what the pipeline asks of a Detector for every batch.
type Request struct {
	Labels        []string
	Confidence    float64 // inclusive
	IoU           float64
	MaxDetections int
	TargetSize    image.Point // ignored by graphs with a fixed input size
	Agnostic      bool        // suppress overlapping boxes regardless of label
}

// RawDetection is one model hit in the frame's pixel space.
type RawDetection struct {
	Label      string
	Confidence float64
	X1, Y1     int
	X2, Y2     int
}

func (d RawDetection) Rect() image.Rectangle {
	return image.Rect(d.X1, d.Y1, d.X2, d.Y2)
}

// Detector runs inference. It returns one ordered slice per input frame and an
// error for any failure; it must not report failure as empty results.
// Implementations are used from a single goroutine.
type Detector interface {
	Detect(ctx context.Context, frames []framebus.Frame, req Request) ([][]RawDetection, error)
	Close() error
}

// suppress runs greedy non-maximum suppression over dets sorted by confidence.
// With agnostic set, boxes of different labels suppress each other. The net
// detector uses gocv.NMSBoxes for agnostic requests and this for per-label ones.
func suppress(dets []RawDetection, iou float64, agnostic bool, maxDet int) []RawDetection {
	sorted := make([]RawDetection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	var kept []RawDetection
	for _, d := range sorted {
		if maxDet > 0 && len(kept) >= maxDet {
			break
		}
		overlaps := false
		for _, k := range kept {
			if !agnostic && k.Label != d.Label {
				continue
			}
			if intersectionOverUnion(k.Rect(), d.Rect()) > iou {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, d)
		}
	}
	return kept
}

func intersectionOverUnion(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}
