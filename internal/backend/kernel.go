// Package backend adapts the numerical simulation boundary treated as an
// opaque collaborator, exposing it as execute(task) -> result_json.
// ReferenceKernel is a minimal statevector simulator good enough to drive
// an end-to-end circuit run without making any claim to be a faithful
// production-simulator replacement.
package backend

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"strconv"
	"strings"

	"github.com/perclft/quantumhpc/internal/channel"
	"github.com/perclft/quantumhpc/internal/task"
)

// Kernel executes a quantum task and returns a result JSON object shaped
// like a counts histogram under results[0].data.counts. ExecuteDynamic
// additionally receives the classical channel so mid-circuit measurement
// exchange instructions (send/recv measure) can be serviced as the
// circuit is simulated.
type Kernel interface {
	Execute(t *task.QuantumTask) (map[string]any, error)
	ExecuteDynamic(t *task.QuantumTask, ch *channel.Channel) (map[string]any, error)
}

// ReferenceKernel is a small complex-amplitude statevector simulator
// supporting h, x, y, z, cx (or cnot), rx, ry, rz and measure, plus
// send_measure/recv_measure over a classical channel. Every other gate
// name, including r, u and cu, is applied as a no-op. It exists only so the
// transport, rewrite and backend-strategy layers this repository actually
// builds can be exercised end to end, and makes no quantum-physics
// correctness claim beyond that.
type ReferenceKernel struct {
	rng *rand.Rand
}

// NewReferenceKernel builds a kernel with its own random source seeded
// from seed, so runs with the same seed are reproducible.
func NewReferenceKernel(seed int64) *ReferenceKernel {
	return &ReferenceKernel{rng: rand.New(rand.NewSource(seed))}
}

func (k *ReferenceKernel) Execute(t *task.QuantumTask) (map[string]any, error) {
	return k.run(t, nil)
}

func (k *ReferenceKernel) ExecuteDynamic(t *task.QuantumTask, ch *channel.Channel) (map[string]any, error) {
	return k.run(t, ch)
}

// pendingMeasurement is a "measure" instruction not yet resolved into a
// bit: qubit is read out into classical register position dest once the
// whole circuit's final distribution is known, independently per shot,
// rather than collapsing the shared statevector during the single
// circuit pass.
type pendingMeasurement struct {
	qubit int
	dest  int
}

func (k *ReferenceKernel) run(t *task.QuantumTask, ch *channel.Channel) (map[string]any, error) {
	numQubits, err := configInt(t.Config, "num_clbits")
	if err != nil {
		return nil, err
	}
	shots, err := configInt(t.Config, "shots")
	if err != nil {
		return nil, err
	}

	sv := newStatevector(numQubits)
	var measurements []pendingMeasurement

	for _, instr := range t.Instructions {
		if err := k.apply(sv, &measurements, instr, t, ch); err != nil {
			return nil, err
		}
	}

	probs := sv.probabilities()
	counts := make(map[string]int, len(probs))
	for s := 0; s < shots; s++ {
		outcome := sampleOutcome(k.rng, probs)
		bits := make([]int, numQubits)
		for _, m := range measurements {
			bits[m.dest] = (outcome >> m.qubit) & 1
		}
		key := hexLittleEndian(bits)
		counts[key]++
	}

	return map[string]any{
		"results": []any{
			map[string]any{
				"data": map[string]any{
					"counts": counts,
				},
			},
		},
	}, nil
}

func (k *ReferenceKernel) apply(sv *statevector, measurements *[]pendingMeasurement, instr task.Instruction, t *task.QuantumTask, ch *channel.Channel) error {
	name := strings.ToLower(instr.Name)
	switch name {
	case "h":
		sv.apply1(instr.Qubits[0], hadamard)
	case "x":
		sv.apply1(instr.Qubits[0], pauliX)
	case "y":
		sv.apply1(instr.Qubits[0], pauliY)
	case "z":
		sv.apply1(instr.Qubits[0], pauliZ)
	case "rx":
		sv.apply1(instr.Qubits[0], rotation(1, 0, 0, instr.Params[0]))
	case "ry":
		sv.apply1(instr.Qubits[0], rotation(0, 1, 0, instr.Params[0]))
	case "rz":
		sv.apply1(instr.Qubits[0], rotation(0, 0, 1, instr.Params[0]))
	case "cx", "cnot":
		sv.applyCX(instr.Qubits[0], instr.Qubits[1])
	case "measure":
		dest := instr.Memory
		if len(dest) == 0 {
			dest = instr.Clbits
		}
		if len(dest) > 0 {
			*measurements = append(*measurements, pendingMeasurement{qubit: instr.Qubits[0], dest: dest[0]})
		}
	case "send_measure":
		if ch == nil || len(instr.QPUs) == 0 {
			return fmt.Errorf("kernel: send_measure outside a dynamic/CC execution")
		}
		bit := sv.measure(k.rng, instr.Qubits[0])
		if err := ch.SendMeasure(bit, instr.QPUs[0]); err != nil {
			return err
		}
	case "recv_measure":
		if ch == nil || len(instr.QPUs) == 0 {
			return fmt.Errorf("kernel: recv_measure outside a dynamic/CC execution")
		}
		if _, err := ch.RecvMeasure(instr.QPUs[0]); err != nil {
			return err
		}
	default:
		// Unsupported gates are no-ops for the reference kernel; a real
		// numerical backend would reject them at configuration time.
	}
	_ = t
	return nil
}

func configInt(config map[string]any, key string) (int, error) {
	v, ok := config[key]
	if !ok {
		return 0, fmt.Errorf("kernel: config missing %q", key)
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int32:
		return int(n), nil
	default:
		return 0, fmt.Errorf("kernel: config %q has unexpected type %T", key, v)
	}
}

func sampleOutcome(rng *rand.Rand, probs []float64) int {
	r := rng.Float64()
	cumulative := 0.0
	for i, p := range probs {
		cumulative += p
		if r <= cumulative {
			return i
		}
	}
	return len(probs) - 1
}

// hexLittleEndian renders a classical register (bits[0] is classical bit
// 0, the least significant) as a lowercase hex string the way AER's own
// counts dictionary keys look, before the adapter's MSB-first conversion.
func hexLittleEndian(bits []int) string {
	var value int64
	for i, b := range bits {
		if b != 0 {
			value |= int64(1) << i
		}
	}
	return "0x" + strconv.FormatInt(value, 16)
}

// --- minimal complex statevector -------------------------------------------------

type statevector struct {
	amps      []complex128
	numQubits int
}

func newStatevector(n int) *statevector {
	sv := &statevector{amps: make([]complex128, 1<<n), numQubits: n}
	sv.amps[0] = 1
	return sv
}

type matrix2 [2][2]complex128

var hadamard = matrix2{
	{complex(1/math.Sqrt2, 0), complex(1/math.Sqrt2, 0)},
	{complex(1/math.Sqrt2, 0), complex(-1/math.Sqrt2, 0)},
}
var pauliX = matrix2{{0, 1}, {1, 0}}
var pauliY = matrix2{{0, complex(0, -1)}, {complex(0, 1), 0}}
var pauliZ = matrix2{{1, 0}, {0, -1}}

// rotation returns exp(-i*theta/2*(x*X + y*Y + z*Z)) for a unit axis (x, y, z).
func rotation(x, y, z, theta float64) matrix2 {
	c := math.Cos(theta / 2)
	s := math.Sin(theta / 2)
	return matrix2{
		{complex(c, -s*z), complex(-s*y, -s*x)},
		{complex(s*y, -s*x), complex(c, s*z)},
	}
}

func (sv *statevector) apply1(qubit int, m matrix2) {
	mask := 1 << qubit
	for i := 0; i < len(sv.amps); i++ {
		if i&mask != 0 {
			continue
		}
		j := i | mask
		a0, a1 := sv.amps[i], sv.amps[j]
		sv.amps[i] = m[0][0]*a0 + m[0][1]*a1
		sv.amps[j] = m[1][0]*a0 + m[1][1]*a1
	}
}

func (sv *statevector) applyCX(control, target int) {
	cmask := 1 << control
	tmask := 1 << target
	for i := 0; i < len(sv.amps); i++ {
		if i&cmask == 0 || i&tmask != 0 {
			continue
		}
		j := i | tmask
		sv.amps[i], sv.amps[j] = sv.amps[j], sv.amps[i]
	}
}

func (sv *statevector) probabilities() []float64 {
	probs := make([]float64, len(sv.amps))
	for i, a := range sv.amps {
		probs[i] = real(a)*real(a) + imag(a)*imag(a)
	}
	return probs
}

func (sv *statevector) measure(rng *rand.Rand, qubit int) int {
	mask := 1 << qubit
	p1 := 0.0
	for i, a := range sv.amps {
		if i&mask != 0 {
			p1 += cmplx.Abs(a) * cmplx.Abs(a)
		}
	}
	outcome := 0
	if rng.Float64() < p1 {
		outcome = 1
	}
	norm := 0.0
	for i := range sv.amps {
		bit := 0
		if i&mask != 0 {
			bit = 1
		}
		if bit != outcome {
			sv.amps[i] = 0
		} else {
			norm += real(sv.amps[i])*real(sv.amps[i]) + imag(sv.amps[i])*imag(sv.amps[i])
		}
	}
	if norm > 0 {
		scale := complex(1/math.Sqrt(norm), 0)
		for i := range sv.amps {
			sv.amps[i] *= scale
		}
	}
	return outcome
}
