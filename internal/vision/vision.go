// Package vision defines the camera-facing interfaces: frame capture,
// face identification, and face registration. The heavy lifting lives
// in an external recognition service; this package is the client side.
package vision

import "context"

// Unknown is the identity reported for a face that matched nobody in
// the recognition database. All unrecognized faces collapse into this
// single identity.
const Unknown = "unknown"

// Rect is a face bounding box in frame pixel coordinates.
type Rect struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Detection is one identified face in a frame.
type Detection struct {
	// Name is the recognized identity, or [Unknown].
	Name string `json:"name"`
	Box  Rect   `json:"box"`
}

// IsUnknown reports whether the detection matched nobody.
func (d Detection) IsUnknown() bool {
	return d.Name == Unknown
}

// FrameSource supplies camera frames.
type FrameSource interface {
	// LatestFrame returns the most recent camera frame as JPEG bytes.
	LatestFrame(ctx context.Context) ([]byte, error)
}

// Detector identifies faces in a frame.
type Detector interface {
	// Detect returns all identified faces in the JPEG frame. Faces
	// that match nobody are reported with the name [Unknown].
	Detect(ctx context.Context, frame []byte) ([]Detection, error)
}

// Registrar enrolls new identities.
type Registrar interface {
	// RegisterPending assigns a name to the unknown face currently in
	// view. Fails if no unknown face is visible.
	RegisterPending(ctx context.Context, name string) error
}
