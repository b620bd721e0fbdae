package goface

import (
	"context"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/m-mizutani/facegreet/pkg/adapter"
	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Detector runs dlib models through go-face. The model directory must
// contain shape_predictor_5_face_landmarks.dat,
// dlib_face_recognition_resnet_model_v1.dat and mmod_human_face_detector.dat.
type Detector struct {
	mu  sync.Mutex
	rec *face.Recognizer
}

var _ adapter.Detector = (*Detector)(nil)

// New loads the dlib models from modelDir
func New(modelDir string) (*Detector, error) {
	rec, err := face.NewRecognizer(modelDir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load face models", goerr.V("dir", modelDir))
	}
	return &Detector{rec: rec}, nil
}

// Detect decodes a JPEG frame and returns every face found in it
func (d *Detector) Detect(ctx context.Context, frame []byte) ([]model.Detection, error) {
	if len(frame) == 0 {
		return nil, goerr.New("empty frame")
	}

	// go-face recognizer is not safe for concurrent use
	d.mu.Lock()
	faces, err := d.rec.Recognize(frame)
	d.mu.Unlock()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to recognize faces", goerr.V("size", len(frame)))
	}

	detections := make([]model.Detection, 0, len(faces))
	for _, f := range faces {
		emb := make(model.Embedding, len(f.Descriptor))
		copy(emb, f.Descriptor[:])
		detections = append(detections, model.Detection{
			Region:    f.Rectangle,
			Landmarks: f.Shapes,
			Embedding: emb,
		})
	}
	return detections, nil
}

// Close releases the native models
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rec.Close()
}
