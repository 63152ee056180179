package client

import (
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// Schema metadata keys carried on every volume record.
const (
	MetaSizeX  = "size_x"
	MetaSizeY  = "size_y"
	MetaSizeZ  = "size_z"
	MetaDtype  = "dtype"
	MetaLayout = "layout"
)

// VolumeRecordBuilder creates Arrow RecordBatches from volumes.
type VolumeRecordBuilder struct {
	mem memory.Allocator
}

// NewVolumeRecordBuilder creates a new builder.
func NewVolumeRecordBuilder(mem memory.Allocator) *VolumeRecordBuilder {
	return &VolumeRecordBuilder{mem: mem}
}

// Build converts a host volume into a RecordBatch with one row per Z slice:
// a "z" index column and a "voxels" FixedSizeList<float32> column of Y*X
// values. Voxels travel as float32 on the wire regardless of the tensor's
// kind; the source kind rides along in the schema metadata.
func (b *VolumeRecordBuilder) Build(t *tensor.Tensor, layout tensor.Layout) (arrow.RecordBatch, error) {
	if t == nil {
		return nil, nil
	}
	if t.Location() != device.Host {
		return nil, fmt.Errorf("volume records need a host tensor, got %v", t.Location())
	}
	if t.Dim(0) != 1 {
		return nil, fmt.Errorf("volume records carry a single batch, got %d", t.Dim(0))
	}

	wire, err := tensor.Convert(t, tensor.Float32)
	if err != nil {
		return nil, err
	}
	sizeZ, sizeY, sizeX := t.Dim(1), t.Dim(2), t.Dim(3)
	width := sizeY * sizeX

	// Z index column
	zb := array.NewInt32Builder(b.mem)
	defer zb.Release()
	for z := 0; z < sizeZ; z++ {
		zb.Append(int32(z))
	}
	zArr := zb.NewArray()
	defer zArr.Release()

	// Zero-copy voxel column: the record borrows the tensor's backing
	// array, so the tensor must stay live until the record is released.
	voxBuf := memory.NewBufferBytes(arrow.Float32Traits.CastToBytes(wire.Float32s()))

	fslType := arrow.FixedSizeListOf(int32(width), arrow.PrimitiveTypes.Float32)

	valuesData := array.NewData(arrow.PrimitiveTypes.Float32, sizeZ*width, []*memory.Buffer{nil, voxBuf}, nil, 0, 0)
	defer valuesData.Release()

	fslData := array.NewData(fslType, sizeZ, []*memory.Buffer{nil}, []arrow.ArrayData{valuesData}, 0, 0)
	defer fslData.Release()
	voxArr := array.NewFixedSizeListData(fslData)
	defer voxArr.Release()

	md := arrow.NewMetadata(
		[]string{MetaSizeX, MetaSizeY, MetaSizeZ, MetaDtype, MetaLayout},
		[]string{strconv.Itoa(sizeX), strconv.Itoa(sizeY), strconv.Itoa(sizeZ), t.Dtype().String(), string(layout)},
	)
	schema := arrow.NewSchema(
		[]arrow.Field{
			{Name: "z", Type: arrow.PrimitiveTypes.Int32},
			{Name: "voxels", Type: fslType},
		},
		&md,
	)

	return array.NewRecordBatch(schema, []arrow.Array{zArr, voxArr}, int64(sizeZ)), nil
}

// DecodeVolume rebuilds a host float32 tensor of shape (1, Z, Y, X) from a
// volume record produced by Build, along with the layout named in the
// schema metadata.
func DecodeVolume(rec arrow.RecordBatch) (*tensor.Tensor, tensor.Layout, error) {
	md := rec.Schema().Metadata()
	extent := func(key string) (int, error) {
		i := md.FindKey(key)
		if i < 0 {
			return 0, fmt.Errorf("volume record missing %s metadata", key)
		}
		return strconv.Atoi(md.Values()[i])
	}
	sizeX, err := extent(MetaSizeX)
	if err != nil {
		return nil, "", err
	}
	sizeY, err := extent(MetaSizeY)
	if err != nil {
		return nil, "", err
	}
	sizeZ, err := extent(MetaSizeZ)
	if err != nil {
		return nil, "", err
	}

	layout := tensor.Layout("NDHW")
	if i := md.FindKey(MetaLayout); i >= 0 {
		layout = tensor.Layout(md.Values()[i])
	}
	if err := layout.Validate(); err != nil {
		return nil, "", err
	}

	if int(rec.NumRows()) != sizeZ {
		return nil, "", fmt.Errorf("volume record has %d rows, extent says %d slices", rec.NumRows(), sizeZ)
	}
	idx := rec.Schema().FieldIndices("voxels")
	if len(idx) == 0 {
		return nil, "", fmt.Errorf("volume record has no voxels column")
	}
	fsl, ok := rec.Column(idx[0]).(*array.FixedSizeList)
	if !ok {
		return nil, "", fmt.Errorf("voxels column is %T, want FixedSizeList", rec.Column(idx[0]))
	}
	width := int(fsl.DataType().(*arrow.FixedSizeListType).Len())
	if width != sizeY*sizeX {
		return nil, "", fmt.Errorf("voxels row width %d does not match %dx%d slices", width, sizeY, sizeX)
	}
	values, ok := fsl.ListValues().(*array.Float32)
	if !ok {
		return nil, "", fmt.Errorf("voxel values are %T, want Float32", fsl.ListValues())
	}
	if values.Len() < sizeZ*width {
		return nil, "", fmt.Errorf("voxel column holds %d values, want %d", values.Len(), sizeZ*width)
	}

	t, err := tensor.New(tensor.Float32, tensor.Shape{1, sizeZ, sizeY, sizeX}, device.Host)
	if err != nil {
		return nil, "", err
	}
	copy(t.Float32s(), values.Float32Values())
	return t, layout, nil
}
