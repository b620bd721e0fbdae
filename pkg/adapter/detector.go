package adapter

import (
	"context"

	"github.com/m-mizutani/facegreet/pkg/model"
)

// Detector finds faces in an encoded image frame and returns their
// embeddings. It is called once per processed frame. The dlib backed
// implementation lives in pkg/adapter/goface.
type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]model.Detection, error)
}
