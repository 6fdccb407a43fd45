package evaluator

import (
	"math"
	"sort"

	"github.com/opal-lang/datacube/core/ndarray"
)

type unaryFunc struct {
	dtype ndarray.DType
	fn    func(float64) float64
}

type binaryFunc struct {
	dtype ndarray.DType
	fn    func(x, y float64) float64
}

func boolOf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func pred(fn func(float64) bool) func(float64) float64 {
	return func(v float64) float64 { return boolOf(fn(v)) }
}

// Real-valued renditions of the numpy ufuncs. Complex helpers (angle, conj,
// imag, real, iscomplex, isreal) see every value as real.
var unaryFuncs = map[string]unaryFunc{
	"angle": {ndarray.Float64, func(v float64) float64 {
		if math.IsNaN(v) {
			return v
		}
		if v < 0 {
			return math.Pi
		}
		return 0
	}},
	"arccos":    {ndarray.Float64, math.Acos},
	"arccosh":   {ndarray.Float64, math.Acosh},
	"arcsin":    {ndarray.Float64, math.Asin},
	"arcsinh":   {ndarray.Float64, math.Asinh},
	"arctan":    {ndarray.Float64, math.Atan},
	"arctanh":   {ndarray.Float64, math.Atanh},
	"ceil":      {ndarray.Float64, math.Ceil},
	"conj":      {ndarray.Float64, func(v float64) float64 { return v }},
	"cos":       {ndarray.Float64, math.Cos},
	"cosh":      {ndarray.Float64, math.Cosh},
	"deg2rad":   {ndarray.Float64, radians},
	"degrees":   {ndarray.Float64, degrees},
	"exp":       {ndarray.Float64, math.Exp},
	"expm1":     {ndarray.Float64, math.Expm1},
	"fabs":      {ndarray.Float64, math.Abs},
	"fix":       {ndarray.Float64, math.Trunc},
	"floor":     {ndarray.Float64, math.Floor},
	"imag":      {ndarray.Float64, func(float64) float64 { return 0 }},
	"iscomplex": {ndarray.Bool, func(float64) float64 { return 0 }},
	"isfinite":  {ndarray.Bool, pred(func(v float64) bool { return !math.IsInf(v, 0) && !math.IsNaN(v) })},
	"isinf":     {ndarray.Bool, pred(func(v float64) bool { return math.IsInf(v, 0) })},
	"isnan":     {ndarray.Bool, pred(math.IsNaN)},
	"isreal":    {ndarray.Bool, func(float64) float64 { return 1 }},
	"log":       {ndarray.Float64, math.Log},
	"log10":     {ndarray.Float64, math.Log10},
	"log1p":     {ndarray.Float64, math.Log1p},
	"log2":      {ndarray.Float64, math.Log2},
	"rad2deg":   {ndarray.Float64, degrees},
	"radians":   {ndarray.Float64, radians},
	"real":      {ndarray.Float64, func(v float64) float64 { return v }},
	"rint":      {ndarray.Float64, math.RoundToEven},
	"sign": {ndarray.Float64, func(v float64) float64 {
		switch {
		case v > 0:
			return 1
		case v < 0:
			return -1
		}
		return v // 0 or NaN
	}},
	"signbit": {ndarray.Bool, pred(math.Signbit)},
	"sin":     {ndarray.Float64, math.Sin},
	"sinh":    {ndarray.Float64, math.Sinh},
	"sqrt":    {ndarray.Float64, math.Sqrt},
	"square":  {ndarray.Float64, func(v float64) float64 { return v * v }},
	"tan":     {ndarray.Float64, math.Tan},
	"tanh":    {ndarray.Float64, math.Tanh},
	"trunc":   {ndarray.Float64, math.Trunc},
}

func radians(v float64) float64 { return v * math.Pi / 180 }
func degrees(v float64) float64 { return v * 180 / math.Pi }

var binaryFuncs = map[string]binaryFunc{
	"arctan2":  {ndarray.Float64, math.Atan2},
	"copysign": {ndarray.Float64, math.Copysign},
	"fmax": {ndarray.Float64, func(x, y float64) float64 {
		if math.IsNaN(x) {
			return y
		}
		if math.IsNaN(y) {
			return x
		}
		return math.Max(x, y)
	}},
	"fmin": {ndarray.Float64, func(x, y float64) float64 {
		if math.IsNaN(x) {
			return y
		}
		if math.IsNaN(y) {
			return x
		}
		return math.Min(x, y)
	}},
	"fmod":  {ndarray.Float64, math.Mod},
	"hypot": {ndarray.Float64, math.Hypot},
	"ldexp": {ndarray.Float64, func(x, y float64) float64 { return math.Ldexp(x, int(y)) }},
	"logaddexp": {ndarray.Float64, func(x, y float64) float64 {
		if x == y {
			return x + math.Ln2
		}
		m := math.Max(x, y)
		return m + math.Log1p(math.Exp(-math.Abs(x-y)))
	}},
	"logaddexp2": {ndarray.Float64, func(x, y float64) float64 {
		if x == y {
			return x + 1
		}
		m := math.Max(x, y)
		return m + math.Log2(1+math.Exp2(-math.Abs(x-y)))
	}},
	"logicaland": {ndarray.Bool, func(x, y float64) float64 { return boolOf(x != 0 && y != 0) }},
	"logicalnot": {ndarray.Bool, func(x, _ float64) float64 { return boolOf(x == 0) }},
	"logicalor":  {ndarray.Bool, func(x, y float64) float64 { return boolOf(x != 0 || y != 0) }},
	"logicalxor": {ndarray.Bool, func(x, y float64) float64 { return boolOf((x != 0) != (y != 0)) }},
	"maximum":    {ndarray.Float64, math.Max},
	"minimum":    {ndarray.Float64, math.Min},
	"nextafter":  {ndarray.Float64, math.Nextafter},
}

// frexp splits x into mantissa and exponent, stacked along a leading
// "component" dimension.
func frexp(x *ndarray.Array) (*ndarray.Array, error) {
	mant := x.Map(ndarray.Float64, func(v float64) float64 {
		f, _ := math.Frexp(v)
		return f
	})
	exp := x.Map(ndarray.Int64, func(v float64) float64 {
		_, e := math.Frexp(v)
		return float64(e)
	})
	return ndarray.Stack("component", mant, exp)
}

// Functions lists every callable name, reductions included.
func Functions() []string {
	names := make([]string, 0, len(unaryFuncs)+len(binaryFuncs)+len(ndarray.Reductions)+2)
	for n := range unaryFuncs {
		names = append(names, n)
	}
	for n := range binaryFuncs {
		names = append(names, n)
	}
	for _, r := range ndarray.Reductions {
		names = append(names, string(r))
	}
	names = append(names, "frexp", "percentile")
	sort.Strings(names)
	return names
}
