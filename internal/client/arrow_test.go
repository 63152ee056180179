package client

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

func rampVolume(t *testing.T, z, y, x int) *tensor.Tensor {
	t.Helper()
	vol, err := tensor.New(tensor.Float32, tensor.Shape{1, z, y, x}, device.Host)
	require.NoError(t, err)
	vals := vol.Float32s()
	for i := range vals {
		vals[i] = float32(i)
	}
	return vol
}

func TestBuildVolumeRecord(t *testing.T) {
	pool := memory.NewGoAllocator()
	builder := NewVolumeRecordBuilder(pool)

	t.Run("Empty input", func(t *testing.T) {
		rb, err := builder.Build(nil, "NDHW")
		assert.NoError(t, err)
		assert.Nil(t, rb)
	})

	t.Run("Valid input", func(t *testing.T) {
		vol := rampVolume(t, 3, 2, 4)

		rb, err := builder.Build(vol, "NDHW")
		require.NoError(t, err)
		require.NotNil(t, rb)
		defer rb.Release()

		assert.Equal(t, int64(3), rb.NumRows())
		assert.Equal(t, int64(2), rb.NumCols())
		assert.Equal(t, "z", rb.ColumnName(0))
		assert.Equal(t, "voxels", rb.ColumnName(1))

		md := rb.Schema().Metadata()
		assert.Equal(t, "4", md.Values()[md.FindKey(MetaSizeX)])
		assert.Equal(t, "3", md.Values()[md.FindKey(MetaSizeZ)])
		assert.Equal(t, "float32", md.Values()[md.FindKey(MetaDtype)])
		assert.Equal(t, "NDHW", md.Values()[md.FindKey(MetaLayout)])

		zArr := rb.Column(0).(*array.Int32)
		assert.Equal(t, []int32{0, 1, 2}, zArr.Int32Values())

		fsl := rb.Column(1).(*array.FixedSizeList)
		assert.Equal(t, 3, fsl.Len())

		values := fsl.ListValues().(*array.Float32)
		assert.Equal(t, 24, values.Len())
		assert.Equal(t, float32(0), values.Value(0))
		assert.Equal(t, float32(23), values.Value(23))
	})

	t.Run("Integer volume widens", func(t *testing.T) {
		vol, err := tensor.New(tensor.Int16, tensor.Shape{1, 1, 1, 3}, device.Host)
		require.NoError(t, err)
		copy(vol.Int16s(), []int16{-5, 0, 900})

		rb, err := builder.Build(vol, "NDHW")
		require.NoError(t, err)
		defer rb.Release()

		md := rb.Schema().Metadata()
		assert.Equal(t, "int16", md.Values()[md.FindKey(MetaDtype)])

		values := rb.Column(1).(*array.FixedSizeList).ListValues().(*array.Float32)
		assert.Equal(t, float32(-5), values.Value(0))
		assert.Equal(t, float32(900), values.Value(2))
	})

	t.Run("Batched volume rejected", func(t *testing.T) {
		vol, err := tensor.New(tensor.Float32, tensor.Shape{2, 1, 1, 3}, device.Host)
		require.NoError(t, err)

		_, err = builder.Build(vol, "NDHW")
		assert.Error(t, err)
	})
}

func TestDecodeVolume(t *testing.T) {
	pool := memory.NewGoAllocator()
	builder := NewVolumeRecordBuilder(pool)

	vol := rampVolume(t, 3, 2, 4)
	rb, err := builder.Build(vol, "NDHW")
	require.NoError(t, err)
	defer rb.Release()

	got, layout, err := DecodeVolume(rb)
	require.NoError(t, err)
	assert.Equal(t, tensor.Layout("NDHW"), layout)
	assert.Equal(t, tensor.Shape{1, 3, 2, 4}, got.Shape())
	assert.Equal(t, vol.Float32s(), got.Float32s())
}

func TestDecodeVolumeRejectsBareRecord(t *testing.T) {
	pool := memory.NewGoAllocator()

	b := array.NewFloat32Builder(pool)
	defer b.Release()
	b.AppendValues([]float32{1, 2}, nil)
	a := b.NewArray()
	defer a.Release()

	schema := arrow.NewSchema(
		[]arrow.Field{{Name: "f1", Type: arrow.PrimitiveTypes.Float32}},
		nil,
	)
	rb := array.NewRecordBatch(schema, []arrow.Array{a}, 2)
	defer rb.Release()

	_, _, err := DecodeVolume(rb)
	assert.Error(t, err)
}
