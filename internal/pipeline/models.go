package pipeline

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/pointcarve/server/internal/bbox"
	"github.com/pointcarve/server/internal/geometry"
)

// OBBPayload is the oriented-bounding-box descriptor the pipeline attaches
// to each detected object.
type OBBPayload struct {
	Center [3]float64 `json:"center"`
	Size   [3]float64 `json:"size" validate:"dive,gt=0"`
	Yaw    float64    `json:"yaw"`
}

// ToOBB converts the wire descriptor into a kernel box.
func (p OBBPayload) ToOBB() geometry.OBB {
	return geometry.NewOBB(mgl64.Vec3(p.Center), mgl64.Vec3(p.Size), p.Yaw)
}

// DynamicObject is one detected object inside a chunk: a point-resource
// locator, the detection confidence and the initial box.
type DynamicObject struct {
	URL         string      `json:"url" validate:"required"`
	Inference   int         `json:"inference" validate:"gte=0"`
	Confidence  float64     `json:"confidence" validate:"gte=0,lte=1"`
	Points      int         `json:"points,omitempty" validate:"gte=0"`
	BoundingBox *OBBPayload `json:"bounding_box,omitempty"`
}

// ChunkResult groups the resources of one processed cluster: the ground
// split, the static remainder and zero or more dynamic detections.
type ChunkResult struct {
	ChunkID int             `json:"chunk_id" validate:"gte=0"`
	Ground  string          `json:"ground" validate:"required"`
	Static  string          `json:"static" validate:"required"`
	Dynamic []DynamicObject `json:"dynamic" validate:"dive"`
}

// JobResult is the processing service's response for one job.
type JobResult struct {
	JobID   string        `json:"job_id" validate:"required"`
	Status  string        `json:"status"`
	Results []ChunkResult `json:"results" validate:"dive"`
}

// ExportRequest submits the session's committed deletions for server-side
// application, keyed by the originating job.
type ExportRequest struct {
	JobID       string          `json:"job_id" validate:"required"`
	BoundingBox []bbox.Deletion `json:"bounding_box"`
}

// ExportResponse reports where the filtered point cloud can be downloaded.
type ExportResponse struct {
	DownloadURL string `json:"download_url"`
	Success     bool   `json:"success"`
}
