// Package nifti implements minimal single-file NIfTI-1 volume I/O
// (.nii and .nii.gz), covering the subset of the format the
// registration pipeline consumes and emits: 3D scalar volumes with
// scaling slope/intercept, pixel dimensions and an sform affine.
package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"corrfield/internal/models"
)

// NIfTI-1 datatype codes supported by the reader.
const (
	typeUint8   = 2
	typeInt16   = 4
	typeInt32   = 8
	typeFloat32 = 16
	typeFloat64 = 64
	typeInt8    = 256
	typeUint16  = 512
)

const headerSize = 348

// header is the fixed 348-byte NIfTI-1 header layout.
type header struct {
	SizeofHdr                    int32
	DataType                     [10]byte
	DBName                       [18]byte
	Extents                      int32
	SessionError                 int16
	Regular                      byte
	DimInfo                      byte
	Dim                          [8]int16
	IntentP1, IntentP2, IntentP3 float32
	IntentCode                   int16
	Datatype                     int16
	Bitpix                       int16
	SliceStart                   int16
	Pixdim                       [8]float32
	VoxOffset                    float32
	SclSlope                     float32
	SclInter                     float32
	SliceEnd                     int16
	SliceCode                    byte
	XyztUnits                    byte
	CalMax, CalMin               float32
	SliceDuration                float32
	Toffset                      float32
	Glmax, Glmin                 int32
	Descrip                      [80]byte
	AuxFile                      [24]byte
	QformCode                    int16
	SformCode                    int16
	QuaternB, QuaternC, QuaternD float32
	QoffsetX, QoffsetY, QoffsetZ float32
	SrowX                        [4]float32
	SrowY                        [4]float32
	SrowZ                        [4]float32
	IntentName                   [16]byte
	Magic                        [4]byte
}

// Read loads a NIfTI-1 volume from path. Gzip compression is detected
// by the .gz suffix. Higher-dimensional files are reduced to their
// first 3D volume; intensities are scaled by scl_slope/scl_inter.
func Read(path string) (*models.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open NIfTI file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return decode(r)
}

func decode(r io.Reader) (*models.Volume, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("failed to read NIfTI header: %w", err)
	}

	// Byte order is detected through sizeof_hdr.
	order := binary.ByteOrder(binary.LittleEndian)
	if int32(order.Uint32(raw[0:4])) != headerSize {
		order = binary.BigEndian
		if int32(order.Uint32(raw[0:4])) != headerSize {
			return nil, fmt.Errorf("not a NIfTI-1 file: bad sizeof_hdr")
		}
	}

	var hdr header
	if err := readBinary(raw, order, &hdr); err != nil {
		return nil, err
	}
	if hdr.Magic[0] != 'n' || (hdr.Magic[1] != '+' && hdr.Magic[1] != 'i') || hdr.Magic[2] != '1' {
		return nil, fmt.Errorf("not a NIfTI-1 file: bad magic %q", hdr.Magic[:3])
	}
	if hdr.Magic[1] != '+' {
		return nil, fmt.Errorf("two-file NIfTI (.hdr/.img) is not supported")
	}
	if hdr.Dim[0] < 3 {
		return nil, fmt.Errorf("NIfTI volume has %d dimensions, need 3", hdr.Dim[0])
	}

	nx, ny, nz := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("invalid NIfTI dimensions %dx%dx%d", nx, ny, nz)
	}

	// Skip extensions up to the voxel offset.
	skip := int(hdr.VoxOffset) - headerSize
	if skip > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(skip)); err != nil {
			return nil, fmt.Errorf("failed to skip NIfTI extensions: %w", err)
		}
	}

	n := nx * ny * nz
	data, err := readVoxels(r, order, hdr.Datatype, n)
	if err != nil {
		return nil, err
	}

	slope := float64(hdr.SclSlope)
	inter := float64(hdr.SclInter)
	if slope == 0 {
		slope = 1
	}
	if slope != 1 || inter != 0 {
		for i := range data {
			data[i] = data[i]*slope + inter
		}
	}

	vol := &models.Volume{
		Data:   data,
		Width:  nx,
		Height: ny,
		Depth:  nz,
	}
	vol.VoxelSize.X = float64(hdr.Pixdim[1])
	vol.VoxelSize.Y = float64(hdr.Pixdim[2])
	vol.VoxelSize.Z = float64(hdr.Pixdim[3])
	if vol.VoxelSize.X == 0 {
		vol.VoxelSize.X = 1
	}
	if vol.VoxelSize.Y == 0 {
		vol.VoxelSize.Y = 1
	}
	if vol.VoxelSize.Z == 0 {
		vol.VoxelSize.Z = 1
	}

	if hdr.SformCode > 0 {
		rows := [3][4]float32{hdr.SrowX, hdr.SrowY, hdr.SrowZ}
		for i := 0; i < 3; i++ {
			for j := 0; j < 4; j++ {
				vol.Affine[i][j] = float64(rows[i][j])
			}
		}
		vol.Affine[3][3] = 1
	} else {
		for i := 0; i < 4; i++ {
			vol.Affine[i][i] = 1
		}
		vol.Affine[0][0] = vol.VoxelSize.X
		vol.Affine[1][1] = vol.VoxelSize.Y
		vol.Affine[2][2] = vol.VoxelSize.Z
	}

	return vol, nil
}

func readBinary(raw []byte, order binary.ByteOrder, hdr *header) error {
	return binary.Read(bytes.NewReader(raw), order, hdr)
}

func readVoxels(r io.Reader, order binary.ByteOrder, datatype int16, n int) ([]float64, error) {
	data := make([]float64, n)
	switch datatype {
	case typeUint8:
		buf := make([]uint8, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("failed to read voxel data: %w", err)
		}
		for i, v := range buf {
			data[i] = float64(v)
		}
	case typeInt8:
		buf := make([]uint8, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("failed to read voxel data: %w", err)
		}
		for i, v := range buf {
			data[i] = float64(int8(v))
		}
	case typeInt16:
		buf := make([]int16, n)
		if err := binary.Read(r, order, buf); err != nil {
			return nil, fmt.Errorf("failed to read voxel data: %w", err)
		}
		for i, v := range buf {
			data[i] = float64(v)
		}
	case typeUint16:
		buf := make([]uint16, n)
		if err := binary.Read(r, order, buf); err != nil {
			return nil, fmt.Errorf("failed to read voxel data: %w", err)
		}
		for i, v := range buf {
			data[i] = float64(v)
		}
	case typeInt32:
		buf := make([]int32, n)
		if err := binary.Read(r, order, buf); err != nil {
			return nil, fmt.Errorf("failed to read voxel data: %w", err)
		}
		for i, v := range buf {
			data[i] = float64(v)
		}
	case typeFloat32:
		buf := make([]float32, n)
		if err := binary.Read(r, order, buf); err != nil {
			return nil, fmt.Errorf("failed to read voxel data: %w", err)
		}
		for i, v := range buf {
			data[i] = float64(v)
		}
	case typeFloat64:
		if err := binary.Read(r, order, data); err != nil {
			return nil, fmt.Errorf("failed to read voxel data: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported NIfTI datatype %d", datatype)
	}
	return data, nil
}

// Write stores a volume as a single-file NIfTI-1 image with float32
// voxels. Gzip compression is selected by the .gz suffix.
func Write(path string, vol *models.Volume) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create NIfTI file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(f)
		defer gz.Close()
		w = gz
	}
	return encode(w, vol)
}

func encode(w io.Writer, vol *models.Volume) error {
	hdr := header{
		SizeofHdr: headerSize,
		Regular:   'r',
		Datatype:  typeFloat32,
		Bitpix:    32,
		VoxOffset: headerSize + 4,
		SclSlope:  1,
		SformCode: 1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim[0] = 3
	hdr.Dim[1] = int16(vol.Width)
	hdr.Dim[2] = int16(vol.Height)
	hdr.Dim[3] = int16(vol.Depth)
	for i := 4; i < 8; i++ {
		hdr.Dim[i] = 1
	}
	hdr.Pixdim[1] = float32(vol.VoxelSize.X)
	hdr.Pixdim[2] = float32(vol.VoxelSize.Y)
	hdr.Pixdim[3] = float32(vol.VoxelSize.Z)
	for j := 0; j < 4; j++ {
		hdr.SrowX[j] = float32(vol.Affine[0][j])
		hdr.SrowY[j] = float32(vol.Affine[1][j])
		hdr.SrowZ[j] = float32(vol.Affine[2][j])
	}

	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("failed to write NIfTI header: %w", err)
	}
	// Four zero bytes: no header extensions.
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return fmt.Errorf("failed to write extension flag: %w", err)
	}

	buf := make([]float32, len(vol.Data))
	for i, v := range vol.Data {
		buf[i] = float32(v)
	}
	if err := binary.Write(w, binary.LittleEndian, buf); err != nil {
		return fmt.Errorf("failed to write voxel data: %w", err)
	}
	return nil
}
