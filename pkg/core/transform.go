// pkg/core/transform.go
package core

// Vector is an engine-space 3D vector (FVector)
type Vector struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Quaternion is an engine-space rotation (FQuat)
type Quaternion struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
	W float32 `json:"w"`
}

// Transform is the placement of a building piece as stored in the
// transform1 column of building_instances.
type Transform struct {
	Rotation    Quaternion `json:"rotation"`
	Translation Vector     `json:"translation"`
	Scale       Vector     `json:"scale"`
}
