package ai

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	"diginetra/internal/framebus"
	"diginetra/internal/logger"

	"gocv.io/x/gocv"
)

var ErrNetNotLoaded = errors.New("detection network not initialized")

// ssdInputSize is the input the SSD MobileNet graph was trained on.
var ssdInputSize = image.Pt(300, 300)

// ssdLabels maps the SSD MobileNet COCO class ids to labels.
var ssdLabels = map[int]string{
	1:  "person",
	2:  "bicycle",
	3:  "car",
	4:  "motorcycle",
	6:  "bus",
	8:  "truck",
	17: "cat",
	18: "dog",
	19: "horse",
	22: "elephant",
	23: "bear",
	24: "zebra",
}

// NetDetector runs an SSD graph through the OpenCV DNN module.
// gocv.Net is not safe for concurrent use; create one per worker.
type NetDetector struct {
	net        gocv.Net
	modelPath  string
	configPath string
	target     gocv.NetTargetType
	fixedInput image.Point
	logger     *logger.Logger
}

// NewNetDetector loads the network. accelerated selects the CUDA target.
func NewNetDetector(modelPath, configPath string, accelerated bool, log *logger.Logger) (*NetDetector, error) {
	d := &NetDetector{
		modelPath:  modelPath,
		configPath: configPath,
		target:     gocv.NetTargetCPU,
		fixedInput: ssdInputSize,
		logger:     log,
	}
	if accelerated {
		d.target = gocv.NetTargetCUDA
	}

	if err := d.initializeNet(); err != nil {
		return nil, err
	}
	return d, nil
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (d *NetDetector) initializeNet() error {
	if _, err := os.Stat(d.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", d.modelPath)
	}
	if _, err := os.Stat(d.configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", d.configPath)
	}

	net := gocv.ReadNet(d.modelPath, d.configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network from %s", d.modelPath)
	}

	backend := gocv.NetBackendDefault
	if d.target == gocv.NetTargetCUDA {
		backend = gocv.NetBackendCUDA
	}
	if err := net.SetPreferableBackend(backend); err != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend: %w", err)
	}
	if err := net.SetPreferableTarget(d.target); err != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable target: %w", err)
	}

	d.net = net
	d.logger.Info("Detection network initialized (%s)", d.modelPath)
	return nil
}

// Detect runs the frames through the network one blob at a time.
func (d *NetDetector) Detect(ctx context.Context, frames []framebus.Frame, req Request) ([][]RawDetection, error) {
	if d.net.Empty() {
		return nil, ErrNetNotLoaded
	}

	allowed := make(map[string]bool, len(req.Labels))
	for _, l := range req.Labels {
		allowed[l] = true
	}

	out := make([][]RawDetection, len(frames))
	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dets, err := d.detectFrame(f, req, allowed)
		if err != nil {
			return nil, fmt.Errorf("frame %s/%d: %w", f.CameraID, f.Seq, err)
		}
		if req.Agnostic {
			out[i] = agnosticNMS(dets, req.IoU, req.MaxDetections)
		} else {
			out[i] = suppress(dets, req.IoU, false, req.MaxDetections)
		}
	}
	return out, nil
}

func (d *NetDetector) detectFrame(f framebus.Frame, req Request, allowed map[string]bool) ([]RawDetection, error) {
	mat, err := FrameToMat(f)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	// SSD input: scale to [-1,1], BGR->RGB.
	blob := gocv.BlobFromImage(mat, 1.0/127.5, d.inputSize(req), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// Rows of [batch_id, class_id, confidence, x1, y1, x2, y2], coordinates normalized.
	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	var results []RawDetection
	for i := 0; i < rows.Rows(); i++ {
		confidence := float64(rows.GetFloatAt(i, 2))
		if confidence < req.Confidence {
			continue
		}
		label, ok := ssdLabels[int(rows.GetFloatAt(i, 1))]
		if !ok || !allowed[label] {
			continue
		}

		results = append(results, RawDetection{
			Label:      label,
			Confidence: confidence,
			X1:         clamp(int(rows.GetFloatAt(i, 3)*float32(f.Width)), 0, f.Width),
			Y1:         clamp(int(rows.GetFloatAt(i, 4)*float32(f.Height)), 0, f.Height),
			X2:         clamp(int(rows.GetFloatAt(i, 5)*float32(f.Width)), 0, f.Width),
			Y2:         clamp(int(rows.GetFloatAt(i, 6)*float32(f.Height)), 0, f.Height),
		})
	}
	return results, nil
}

// inputSize is the blob size fed to the network. A graph with a fixed input
// ignores the profile's target size.
func (d *NetDetector) inputSize(req Request) image.Point {
	if d.fixedInput.X > 0 && d.fixedInput.Y > 0 {
		return d.fixedInput
	}
	if req.TargetSize.X > 0 && req.TargetSize.Y > 0 {
		return req.TargetSize
	}
	return ssdInputSize
}

// agnosticNMS drops overlapping boxes regardless of label and keeps at most
// maxDet of the survivors, best first. dets are already confidence-filtered,
// so NMSBoxes gets a zero score threshold and a hit at exactly the confidence
// threshold survives.
func agnosticNMS(dets []RawDetection, iou float64, maxDet int) []RawDetection {
	if len(dets) == 0 {
		return nil
	}
	rects := make([]image.Rectangle, len(dets))
	scores := make([]float32, len(dets))
	for i, det := range dets {
		rects[i] = det.Rect()
		scores[i] = float32(det.Confidence)
	}

	indices := gocv.NMSBoxes(rects, scores, 0, float32(iou))
	if maxDet > 0 && len(indices) > maxDet {
		indices = indices[:maxDet]
	}
	kept := make([]RawDetection, 0, len(indices))
	for _, idx := range indices {
		kept = append(kept, dets[idx])
	}
	return kept
}

func (d *NetDetector) Close() error {
	if d.net.Empty() {
		return nil
	}
	return d.net.Close()
}

// FrameToMat wraps a frame's pixels in a new Mat. The caller closes it.
func FrameToMat(f framebus.Frame) (gocv.Mat, error) {
	if f.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty frame from %s", f.CameraID)
	}
	mt := gocv.MatTypeCV8UC3
	if f.Channels == 1 {
		mt = gocv.MatTypeCV8UC1
	}
	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, mt, f.Data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to build mat: %w", err)
	}
	return mat, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
