package models

// Volume represents a 3D scalar volume such as a CT scan or a derived
// score map. Data is stored as a 1D array in row-major order with x
// fastest: index = z*Width*Height + y*Width + x.
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order
	Data []float64

	// Width is the width of the volume in voxels (x axis)
	Width int

	// Height is the height of the volume in voxels (y axis)
	Height int

	// Depth is the depth of the volume in voxels (z axis)
	Depth int

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize struct {
		X, Y, Z float64
	}

	// Affine maps voxel coordinates to physical space. Row-major 4x4,
	// identity when the source format carried no transform.
	Affine [4][4]float64
}

// NewVolume allocates a zero-filled volume with the given dimensions
// and an identity affine.
func NewVolume(width, height, depth int) *Volume {
	v := &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
	v.VoxelSize.X = 1.0
	v.VoxelSize.Y = 1.0
	v.VoxelSize.Z = 1.0
	for i := 0; i < 4; i++ {
		v.Affine[i][i] = 1.0
	}
	return v
}

// Index returns the flat array index of voxel (x, y, z).
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the intensity at voxel (x, y, z). Coordinates outside the
// volume read as zero, matching the implicit zero padding used by the
// filtering and morphology kernels.
func (v *Volume) At(x, y, z int) float64 {
	if x < 0 || x >= v.Width || y < 0 || y >= v.Height || z < 0 || z >= v.Depth {
		return 0
	}
	return v.Data[v.Index(x, y, z)]
}

// Set writes the intensity at voxel (x, y, z). Out-of-bounds writes are
// ignored.
func (v *Volume) Set(x, y, z int, value float64) {
	if x < 0 || x >= v.Width || y < 0 || y >= v.Height || z < 0 || z >= v.Depth {
		return
	}
	v.Data[v.Index(x, y, z)] = value
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := &Volume{
		Data:      make([]float64, len(v.Data)),
		Width:     v.Width,
		Height:    v.Height,
		Depth:     v.Depth,
		VoxelSize: v.VoxelSize,
		Affine:    v.Affine,
	}
	copy(out.Data, v.Data)
	return out
}

// SameShape reports whether two volumes have identical dimensions.
func (v *Volume) SameShape(o *Volume) bool {
	return v.Width == o.Width && v.Height == o.Height && v.Depth == o.Depth
}

// Keypoint is a voxel coordinate in the fixed image selected as a
// high-confidence anchor for correspondence search.
type Keypoint struct {
	X, Y, Z int
}

// Displacement is a 3-vector in voxel units.
type Displacement struct {
	Dx, Dy, Dz float64
}

// Correspondence pairs a fixed-image keypoint with its resolved
// location in the moving image (voxel coordinates, sub-voxel).
type Correspondence struct {
	FixedX, FixedY, FixedZ    float64
	MovingX, MovingY, MovingZ float64
}

// DisplacementField holds one displacement vector per fixed-volume
// voxel, stored as three scalar volumes sharing the fixed grid's shape.
type DisplacementField struct {
	Dx, Dy, Dz []float64
	Width      int
	Height     int
	Depth      int
}

// NewDisplacementField allocates a zero (identity) field.
func NewDisplacementField(width, height, depth int) *DisplacementField {
	n := width * height * depth
	return &DisplacementField{
		Dx:     make([]float64, n),
		Dy:     make([]float64, n),
		Dz:     make([]float64, n),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// Index returns the flat array index of voxel (x, y, z).
func (f *DisplacementField) Index(x, y, z int) int {
	return z*f.Width*f.Height + y*f.Width + x
}

// Add accumulates another field into this one. Fields must share shape.
func (f *DisplacementField) Add(o *DisplacementField) {
	for i := range f.Dx {
		f.Dx[i] += o.Dx[i]
		f.Dy[i] += o.Dy[i]
		f.Dz[i] += o.Dz[i]
	}
}

// At returns the displacement vector at voxel (x, y, z) with zero
// padding outside the grid.
func (f *DisplacementField) At(x, y, z int) Displacement {
	if x < 0 || x >= f.Width || y < 0 || y >= f.Height || z < 0 || z >= f.Depth {
		return Displacement{}
	}
	i := f.Index(x, y, z)
	return Displacement{Dx: f.Dx[i], Dy: f.Dy[i], Dz: f.Dz[i]}
}
