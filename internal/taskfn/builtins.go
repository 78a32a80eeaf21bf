package taskfn

import (
	"encoding/binary"
	"math"

	"github.com/vk/taskmesh/internal/datastore"
)

func init() {
	Register("dot_product", dotProduct)
	Register("sum", sum)
	Register("scale", scale)
}

// dotProduct is the builtin behind SPEC_FULL.md's §4.8 example manifest:
// two equal-length float64 vectors in, their dot product out.
func dotProduct(store *datastore.Store, inputs []datastore.DataID, output datastore.DataID) error {
	if err := requireInputs("dot_product", inputs, 2); err != nil {
		return err
	}
	a, err := readFloats(store, inputs[0])
	if err != nil {
		return err
	}
	b, err := readFloats(store, inputs[1])
	if err != nil {
		return err
	}
	var result float64
	for i := range a {
		result += a[i] * b[i]
	}
	return store.StoreBytes(output, writeFloats([]float64{result}))
}

// sum adds any number of equal-length float64 vectors elementwise.
func sum(store *datastore.Store, inputs []datastore.DataID, output datastore.DataID) error {
	if len(inputs) == 0 {
		return requireInputs("sum", inputs, 1)
	}
	acc, err := readFloats(store, inputs[0])
	if err != nil {
		return err
	}
	out := append([]float64(nil), acc...)
	for _, id := range inputs[1:] {
		v, err := readFloats(store, id)
		if err != nil {
			return err
		}
		for i := range out {
			out[i] += v[i]
		}
	}
	return store.StoreBytes(output, writeFloats(out))
}

// scale multiplies a float64 vector by a scalar carried in a second,
// single-element input.
func scale(store *datastore.Store, inputs []datastore.DataID, output datastore.DataID) error {
	if err := requireInputs("scale", inputs, 2); err != nil {
		return err
	}
	v, err := readFloats(store, inputs[0])
	if err != nil {
		return err
	}
	factor, err := readFloats(store, inputs[1])
	if err != nil {
		return err
	}
	if len(factor) != 1 {
		return ErrScaleFactorNotScalar
	}
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] * factor[0]
	}
	return store.StoreBytes(output, writeFloats(out))
}

func readFloats(store *datastore.Store, id datastore.DataID) ([]float64, error) {
	span, err := store.GetSpan(id)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(span)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(span[i*8 : i*8+8]))
	}
	return out, nil
}

func writeFloats(v []float64) []byte {
	b := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(b[i*8:i*8+8], math.Float64bits(f))
	}
	return b
}
